package session

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/agentd-dev/agentd/pkg/types"
)

// ruleFiles are the project instruction files injected into the system
// prompt, first match wins.
var ruleFiles = []string{"AGENTS.md", "CLAUDE.md", "CONTEXT.md"}

// SystemPrompts composes the system prompt stack for one turn: the
// provider base, the agent prompt, an environment snapshot, and any
// project rule files. Each entry becomes its own system message so
// providers can cache the stable prefix.
func SystemPrompts(cfg *types.Config, agent *Agent, sess *types.Session, providerID string) []string {
	var prompts []string

	if base := providerBase(providerID); base != "" {
		prompts = append(prompts, base)
	}
	if agent != nil && agent.Prompt != "" {
		prompts = append(prompts, agent.Prompt)
	}
	prompts = append(prompts, environmentPrompt(sess))
	if rules := projectRules(cfg, sess); rules != "" {
		prompts = append(prompts, rules)
	}
	return prompts
}

func providerBase(providerID string) string {
	switch providerID {
	case "anthropic":
		return "You are a coding agent running in agentd, a local session engine. " +
			"You have tools that read, write, and execute commands in the user's " +
			"worktree. Prefer acting over asking; keep answers terse."
	case "openai":
		return "You are a coding agent with filesystem and shell tools. " +
			"Read files before editing them and keep changes minimal."
	default:
		return ""
	}
}

func environmentPrompt(sess *types.Session) string {
	dir := ""
	if sess != nil {
		dir = sess.Directory
	}
	if dir == "" {
		dir, _ = os.Getwd()
	}

	var b strings.Builder
	b.WriteString("<environment>\n")
	fmt.Fprintf(&b, "Working directory: %s\n", dir)
	fmt.Fprintf(&b, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "Date: %s\n", time.Now().Format("2006-01-02"))
	if branch := gitBranch(dir); branch != "" {
		fmt.Fprintf(&b, "Git branch: %s\n", branch)
	}
	b.WriteString("</environment>")
	return b.String()
}

// projectRules loads rule files from the worktree plus any instruction
// paths the config names.
func projectRules(cfg *types.Config, sess *types.Session) string {
	dir := ""
	if sess != nil {
		dir = sess.Directory
	}

	var sections []string
	if dir != "" {
		for _, name := range ruleFiles {
			content, err := os.ReadFile(filepath.Join(dir, name))
			if err == nil && len(content) > 0 {
				sections = append(sections, string(content))
				break
			}
		}
	}
	if cfg != nil {
		for _, path := range cfg.Instructions {
			if !filepath.IsAbs(path) && dir != "" {
				path = filepath.Join(dir, path)
			}
			if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
				sections = append(sections, string(content))
			}
		}
	}
	if len(sections) == 0 {
		return ""
	}
	return "<project-rules>\n" + strings.Join(sections, "\n\n") + "\n</project-rules>"
}

func gitBranch(dir string) string {
	if dir == "" {
		return ""
	}
	cmd := exec.Command("git", "branch", "--show-current")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
