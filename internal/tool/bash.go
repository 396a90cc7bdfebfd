package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/agentd-dev/agentd/internal/permission"
)

const (
	DefaultBashTimeout = 120 * time.Second
	MaxBashTimeout     = 10 * time.Minute
)

const bashDescription = `Executes a bash command.

Usage:
- Command is required
- Optional timeout in milliseconds (max 600000)
- Provide a brief description of what the command does
- Output is captured from stdout and stderr
- Commands run in a process group for proper cleanup`

// BashTool implements shell command execution.
type BashTool struct {
	workDir string
	shell   string
}

// BashInput represents the input for the bash tool.
type BashInput struct {
	Command     string `json:"command"`
	Timeout     int    `json:"timeout,omitempty"` // milliseconds
	Description string `json:"description"`
}

// NewBashTool creates a new bash tool.
func NewBashTool(workDir string) *BashTool {
	return &BashTool{
		workDir: workDir,
		shell:   detectShell(),
	}
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		// Exclude shells with incompatible -c semantics.
		base := filepath.Base(s)
		if base != "fish" && base != "nu" {
			return s
		}
	}
	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *BashTool) ID() string          { return "bash" }
func (t *BashTool) Description() string { return bashDescription }

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			},
			"description": {
				"type": "string",
				"description": "Brief description of what this command does"
			}
		},
		"required": ["command", "description"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, tctx *Context) (*Result, error) {
	var params BashInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	workDir := t.workDir
	if tctx.WorkDir != "" {
		workDir = tctx.WorkDir
	}

	if err := t.checkPermissions(ctx, params.Command, workDir, tctx); err != nil {
		return nil, err
	}

	timeout := DefaultBashTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
		if timeout > MaxBashTimeout {
			timeout = MaxBashTimeout
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, t.shell, "-c", params.Command)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	if runtime.GOOS != "windows" {
		// Process group so child processes die with the command.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	tctx.SetMetadata(params.Description, map[string]any{
		"description": params.Description,
	})

	output, err := cmd.CombinedOutput()
	timedOut := cmdCtx.Err() == context.DeadlineExceeded

	result := string(output)
	if timedOut {
		result += fmt.Sprintf("\n\n(Command timed out after %v)", timeout)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil && !timedOut {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			result += fmt.Sprintf("\n\nError: %v", err)
		}
	}

	title := params.Description
	if title == "" {
		title = "Run command"
	}

	return &Result{
		Title:  title,
		Output: result,
		Metadata: map[string]any{
			"description": params.Description,
			"exit":        exitCode,
		},
		// The end of a long command's output matters more than the start.
		Direction: Tail,
	}, nil
}

// checkPermissions parses the command line and asks for each simple
// command whose key is not already covered by a rule. Path arguments of
// mutating commands outside the worktree trigger their own ask.
func (t *BashTool) checkPermissions(ctx context.Context, command, workDir string, tctx *Context) error {
	commands, err := permission.ParseCommands(command)
	if err != nil {
		// Unparseable command lines fall back to a whole-line ask.
		return tctx.RequestPermission(ctx, "bash:"+command, command, []string{"bash:" + command}, map[string]any{
			"command":     command,
			"parseFailed": true,
		})
	}

	for _, cmd := range commands {
		if !permission.IsMutating(cmd.Name) {
			continue
		}
		for _, p := range permission.PathArgs(cmd) {
			resolved := p
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(workDir, resolved)
			}
			if permission.WithinDir(resolved, workDir) {
				continue
			}
			dir := filepath.Dir(resolved)
			err := tctx.RequestPermission(ctx, resolved,
				fmt.Sprintf("Command references paths outside of %s", workDir),
				[]string{dir, filepath.Join(dir, "*")},
				map[string]any{"command": command, "path": resolved})
			if err != nil {
				return err
			}
		}
	}

	asked := make(map[string]bool)
	for _, cmd := range commands {
		if cmd.Name == "cd" {
			continue // covered by the path validation above
		}
		key := cmd.Key()
		if asked[key] {
			continue
		}
		asked[key] = true

		err := tctx.RequestPermission(ctx, key, command, permission.Patterns([]permission.Command{cmd}), map[string]any{
			"command": command,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
