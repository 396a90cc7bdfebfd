package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const globDescription = `Fast file pattern matching tool that works with any codebase size.

Usage:
- Supports glob patterns like "**/*.js" or "src/**/*.ts"
- Returns matching file paths sorted by modification time (newest first)
- Use this tool when you need to find files by name patterns`

// GlobTool implements file pattern matching.
type GlobTool struct{}

// GlobInput represents the input for the glob tool.
type GlobInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// NewGlobTool creates a new glob tool.
func NewGlobTool() *GlobTool { return &GlobTool{} }

func (t *GlobTool) ID() string          { return "glob" }
func (t *GlobTool) Description() string { return globDescription }

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The glob pattern to match files against"
			},
			"path": {
				"type": "string",
				"description": "Directory to search in (default: the worktree)"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage, tctx *Context) (*Result, error) {
	var params GlobInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if !doublestar.ValidatePattern(params.Pattern) {
		return nil, fmt.Errorf("invalid glob pattern: %s", params.Pattern)
	}

	searchDir := tctx.WorkDir
	if params.Path != "" {
		searchDir = tctx.Resolve(params.Path)
	}

	type match struct {
		path    string
		modTime int64
	}
	var matches []match

	err := doublestar.GlobWalk(os.DirFS(searchDir), params.Pattern, func(path string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || shouldIgnore(d.Name(), false, defaultIgnorePatterns) {
			return nil
		}
		for _, part := range strings.Split(filepath.Dir(path), string(filepath.Separator)) {
			if shouldIgnore(part, true, defaultIgnorePatterns) {
				return nil
			}
		}
		var mod int64
		if info, err := d.Info(); err == nil {
			mod = info.ModTime().UnixMilli()
		}
		matches = append(matches, match{path: path, modTime: mod})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", params.Pattern, err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].modTime > matches[j].modTime })

	const maxFiles = 100
	truncated := len(matches) > maxFiles
	if truncated {
		matches = matches[:maxFiles]
	}

	if len(matches) == 0 {
		return &Result{
			Title:  "Glob search",
			Output: "No files matched the pattern",
			Metadata: map[string]any{
				"pattern": params.Pattern,
				"count":   0,
			},
		}, nil
	}

	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = m.path
	}
	output := strings.Join(files, "\n")
	if truncated {
		output += fmt.Sprintf("\n\n(Showing first %d matches)", maxFiles)
	}

	return &Result{
		Title:  fmt.Sprintf("Found %d files", len(files)),
		Output: output,
		Metadata: map[string]any{
			"pattern":   params.Pattern,
			"count":     len(files),
			"truncated": truncated,
		},
	}, nil
}
