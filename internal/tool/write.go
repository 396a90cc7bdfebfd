package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentd-dev/agentd/internal/event"
)

const writeDescription = `Writes content to a file on the local filesystem.

Usage:
- The filePath parameter should be an absolute path; relative paths resolve against the worktree
- This tool will overwrite existing files
- Parent directories will be created if they don't exist
- ALWAYS prefer editing existing files over creating new ones`

// WriteTool implements file writing.
type WriteTool struct {
	bus *event.Bus
}

// WriteInput represents the input for the write tool.
type WriteInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// NewWriteTool creates a new write tool.
func NewWriteTool(bus *event.Bus) *WriteTool {
	return &WriteTool{bus: bus}
}

func (t *WriteTool) ID() string          { return "write" }
func (t *WriteTool) Description() string { return writeDescription }

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the file to write"
			},
			"content": {
				"type": "string",
				"description": "The content to write to the file"
			}
		},
		"required": ["filePath", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, tctx *Context) (*Result, error) {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	path := tctx.Resolve(params.FilePath)

	// Overwriting an existing file requires it to have been read first.
	if _, err := os.Stat(path); err == nil && tctx.FileTimes != nil {
		if err := tctx.FileTimes.Check(path); err != nil {
			return nil, err
		}
	}

	title := fmt.Sprintf("Write %s", filepath.Base(path))
	if err := tctx.RequestPermission(ctx, path, title, []string{path}, map[string]any{
		"file": path,
	}); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	if tctx.FileTimes != nil {
		tctx.FileTimes.MarkRead(path)
	}
	if t.bus != nil && tctx.SessionID != "" {
		t.bus.Publish(event.FileEdited, event.FileEditedData{File: path})
	}

	return &Result{
		Title:  fmt.Sprintf("Wrote %s", filepath.Base(path)),
		Output: fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), path),
		Metadata: map[string]any{
			"file":  path,
			"bytes": len(params.Content),
		},
	}, nil
}
