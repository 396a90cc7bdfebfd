package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const grepDescription = `A powerful content search tool built on ripgrep.

Usage:
- Supports full regex syntax (e.g., "log.*Error", "function\\s+\\w+")
- Filter files with the include parameter (e.g., "*.js", "**/*.tsx")
- Returns matching lines with file paths and line numbers`

// GrepTool implements content search.
type GrepTool struct{}

// GrepInput represents the input for the grep tool.
type GrepInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Include string `json:"include,omitempty"`
}

// NewGrepTool creates a new grep tool.
func NewGrepTool() *GrepTool { return &GrepTool{} }

func (t *GrepTool) ID() string          { return "grep" }
func (t *GrepTool) Description() string { return grepDescription }

func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The regex pattern to search for in file contents"
			},
			"path": {
				"type": "string",
				"description": "The directory to search in (default: the worktree)"
			},
			"include": {
				"type": "string",
				"description": "File pattern to include in the search (e.g. \"*.js\", \"*.{ts,tsx}\")"
			}
		},
		"required": ["pattern"]
	}`)
}

// grepMatch is one search hit.
type grepMatch struct {
	file    string
	line    int
	content string
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage, tctx *Context) (*Result, error) {
	var params GrepInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	args := []string{"--line-number", "--with-filename", "--color=never"}
	if params.Include != "" {
		args = append(args, "--glob", params.Include)
	}
	args = append(args, "--", params.Pattern)

	searchPath := tctx.WorkDir
	if params.Path != "" {
		searchPath = tctx.Resolve(params.Path)
	}
	args = append(args, searchPath)

	// rg exits 1 on no matches; only the output matters here.
	cmd := exec.CommandContext(ctx, "rg", args...)
	output, _ := cmd.Output()

	if len(output) == 0 {
		return &Result{
			Title:  "Search results",
			Output: "No matches found",
			Metadata: map[string]any{
				"pattern": params.Pattern,
				"count":   0,
			},
		}, nil
	}

	var matches []grepMatch
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		file, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		lineStr, content, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		lineNum, _ := strconv.Atoi(lineStr)
		matches = append(matches, grepMatch{file: file, line: lineNum, content: content})
	}

	const maxMatches = 100
	truncated := len(matches) > maxMatches
	if truncated {
		matches = matches[:maxMatches]
	}

	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.file, m.line, m.content)
	}
	if truncated {
		fmt.Fprintf(&sb, "\n(Showing first %d matches)", maxMatches)
	}

	return &Result{
		Title:  fmt.Sprintf("Found %d matches", len(matches)),
		Output: sb.String(),
		Metadata: map[string]any{
			"pattern":   params.Pattern,
			"count":     len(matches),
			"truncated": truncated,
		},
	}, nil
}
