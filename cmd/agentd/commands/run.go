package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/permission"
	"github.com/agentd-dev/agentd/internal/provider"
	"github.com/agentd-dev/agentd/internal/session"
	"github.com/agentd-dev/agentd/pkg/types"
)

var (
	runModel    string
	runAgent    string
	runContinue bool
	runSession  string
	runDir      string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Run a single prompt turn",
	Long: `Run one prompt turn against a new or existing session and print
the assistant's reply. Permission requests are approved automatically,
so only use this in directories you trust the agent to modify.

Examples:
  agentd run "Fix the bug in main.go"
  agentd run --model anthropic/claude-sonnet-4 "Explain this code"
  agentd run --continue "And now add a test for it"`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().StringVar(&runAgent, "agent", "", "Agent to use")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the most recent session")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to continue")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
}

func runOnce(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	message := strings.Join(args, " ")
	if message == "" {
		return fmt.Errorf("message required. Usage: agentd run \"your message\"")
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, workDir)
	if err != nil {
		return err
	}
	defer rt.close()

	proj, err := rt.projects.Resolve(ctx, workDir)
	if err != nil {
		return err
	}

	sessionID := runSession
	if sessionID == "" && runContinue {
		sessions, err := rt.sessions.List(ctx, proj.ID)
		if err != nil {
			return err
		}
		if len(sessions) > 0 {
			sessionID = sessions[0].ID
		}
	}
	if sessionID == "" {
		sess, err := rt.sessions.Create(ctx, proj, session.CreateInput{})
		if err != nil {
			return err
		}
		sessionID = sess.ID
	}

	// Headless turn: approve every permission ask as it arrives.
	sub := rt.bus.Subscribe(event.DefaultBuffer, event.PermissionUpdated)
	defer sub.Close()
	go func() {
		for e := range sub.Events() {
			if data, ok := e.Properties.(event.PermissionUpdatedData); ok {
				rt.gate.Reply(data.ID, permission.ResponseOnce)
			}
		}
	}()

	in := session.PromptInput{
		SessionID: sessionID,
		Agent:     runAgent,
		Parts:     []session.PromptPart{{Type: "text", Text: message}},
	}
	if runModel != "" {
		pid, mid := provider.ParseModelString(runModel)
		in.Model = &types.ModelRef{ProviderID: pid, ModelID: mid}
	}

	assistant, err := rt.engine.Prompt(ctx, in)
	if err != nil {
		return err
	}
	if assistant.Error != nil {
		return fmt.Errorf("%s: %s", assistant.Error.Name, assistant.Error.Data.Message)
	}

	parts, err := rt.store.Repo().ListParts(ctx, assistant.ID)
	if err != nil {
		return err
	}
	for _, part := range parts {
		if text, ok := part.(*types.TextPart); ok {
			fmt.Println(text.Text)
		}
	}
	return nil
}
