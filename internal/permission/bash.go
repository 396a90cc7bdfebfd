package permission

import (
	"fmt"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Command is one simple command extracted from a shell line.
type Command struct {
	Name       string   // e.g. "rm", "git"
	Args       []string
	Subcommand string // first non-flag argument, e.g. "commit" in "git commit"
}

// ParseCommands parses a bash command line into the simple commands it
// runs, crossing pipes, lists, and substitutions.
func ParseCommands(command string) ([]Command, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}

	var commands []Command
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractCommand(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

func extractCommand(call *syntax.CallExpr) *Command {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &Command{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		argStr := wordToString(arg)
		cmd.Args = append(cmd.Args, argStr)
		if cmd.Subcommand == "" && !strings.HasPrefix(argStr, "-") {
			cmd.Subcommand = argStr
		}
	}

	return cmd
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			// Content is dynamic; keep a marker so keys stay stable.
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// Key returns the evaluation key for a command: "bash:<name> <subcommand>"
// or "bash:<name>" when there is none. Rules like "bash:git *" match it
// through the glob evaluator.
func (c Command) Key() string {
	if c.Subcommand != "" {
		return "bash:" + c.Name + " " + c.Subcommand
	}
	return "bash:" + c.Name
}

// Pattern returns the rule pattern offered to the user for "always":
// subcommand-scoped when present, otherwise command-scoped.
func (c Command) Pattern() string {
	if c.Subcommand != "" {
		return "bash:" + c.Name + " " + c.Subcommand + "*"
	}
	return "bash:" + c.Name + "*"
}

// Patterns builds deduplicated always-patterns for a command list. "cd" is
// skipped; directory changes are validated separately.
func Patterns(commands []Command) []string {
	seen := make(map[string]bool)
	var patterns []string
	for _, cmd := range commands {
		if cmd.Name == "cd" {
			continue
		}
		p := cmd.Pattern()
		if !seen[p] {
			seen[p] = true
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// mutatingCommands modify the filesystem and get their path arguments
// validated against the worktree.
var mutatingCommands = map[string]bool{
	"cd":    true,
	"rm":    true,
	"cp":    true,
	"mv":    true,
	"mkdir": true,
	"touch": true,
	"chmod": true,
	"chown": true,
	"rmdir": true,
	"dd":    true,
}

// IsMutating reports whether a command is in the filesystem-mutating set.
func IsMutating(name string) bool {
	return mutatingCommands[name]
}

// PathArgs extracts the likely path arguments of a command.
func PathArgs(cmd Command) []string {
	var paths []string
	for _, arg := range cmd.Args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		// chmod modes look like paths but are not.
		if cmd.Name == "chmod" && len(arg) > 0 {
			c := arg[0]
			if c >= '0' && c <= '9' || strings.ContainsRune("ugoa+=", rune(c)) {
				continue
			}
		}
		paths = append(paths, arg)
	}
	return paths
}

// WithinDir reports whether path sits at or under dir after cleaning.
func WithinDir(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
