// Package server exposes the engine over HTTP: JSON endpoints for
// projects, sessions, prompts, and permissions, plus the /event SSE
// stream carrying every bus event.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentd-dev/agentd/internal/config"
	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/permission"
	"github.com/agentd-dev/agentd/internal/project"
	"github.com/agentd-dev/agentd/internal/session"
	"github.com/agentd-dev/agentd/internal/store"
	"github.com/agentd-dev/agentd/pkg/types"
)

// Config holds server listen configuration.
type Config struct {
	Port         int
	Directory    string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the default listen configuration. The write
// timeout stays zero so SSE connections are never cut.
func DefaultConfig() *Config {
	return &Config{
		Port:        4096,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
	}
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	AppConfig *types.Config
	Paths     *config.Paths
	Store     *store.Store
	Bus       *event.Bus
	Engine    *session.Engine
	Sessions  *session.Service
	Projects  *project.Service
	Gate      *permission.Gate
}

// Server is the HTTP server.
type Server struct {
	config  *Config
	deps    Deps
	router  *chi.Mux
	httpSrv *http.Server
}

// New creates a server and mounts its routes.
func New(cfg *Config, deps Deps) *Server {
	s := &Server{
		config: cfg,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	s.router.Use(s.directoryContext)
}

// directoryContext resolves the effective working directory for the
// request: the ?directory= query override or the server default.
func (s *Server) directoryContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir := r.URL.Query().Get("directory")
		if dir == "" {
			dir = s.config.Directory
		}
		ctx := context.WithValue(r.Context(), contextKeyDirectory, dir)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the router for tests.
func (s *Server) Router() *chi.Mux { return s.router }

type contextKey string

const contextKeyDirectory contextKey = "directory"

func getDirectory(ctx context.Context) string {
	if dir, ok := ctx.Value(contextKeyDirectory).(string); ok {
		return dir
	}
	return ""
}

// currentProject resolves the request's directory to its project.
func (s *Server) currentProject(r *http.Request) (*types.Project, error) {
	return s.deps.Projects.Resolve(r.Context(), getDirectory(r.Context()))
}
