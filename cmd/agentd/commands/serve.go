package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentd-dev/agentd/internal/logging"
	"github.com/agentd-dev/agentd/internal/server"
)

var (
	servePort int
	serveCORS bool
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentd HTTP server",
	Long: `Start agentd as a local server exposing the session API over HTTP
and streaming events over SSE.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 4096, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveCORS, "cors", false, "Allow cross-origin requests")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, workDir)
	if err != nil {
		return err
	}
	defer rt.close()

	serverConfig := server.DefaultConfig()
	serverConfig.Port = servePort
	serverConfig.Directory = workDir
	serverConfig.EnableCORS = serveCORS

	srv := server.New(serverConfig, server.Deps{
		AppConfig: rt.config,
		Paths:     rt.paths,
		Store:     rt.store,
		Bus:       rt.bus,
		Engine:    rt.engine,
		Sessions:  rt.sessions,
		Projects:  rt.projects,
		Gate:      rt.gate,
	})

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Int("port", servePort).Str("directory", workDir).
			Msg("server listening")
		fmt.Printf("agentd %s listening on http://127.0.0.1:%d\n", Version, servePort)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logging.Info().Msg("shutting down")

	rt.engine.Locks().CancelAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server shutdown failed")
	}
	return nil
}
