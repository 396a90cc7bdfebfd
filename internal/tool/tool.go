// Package tool provides the tool contract, registry, and built-in tools
// executed during assistant turns.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Tool is one executable tool.
type Tool interface {
	// ID returns the tool identifier.
	ID() string

	// Description returns the tool description shown to the model.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Execute runs the tool with the given argument JSON.
	Execute(ctx context.Context, input json.RawMessage, tctx *Context) (*Result, error)
}

// AskFunc requests permission for a tool action. The key is tool-defined
// (a path for edit, a command template for bash, a host for webfetch);
// patterns are what an "always" reply persists as allow rules.
type AskFunc func(ctx context.Context, key, title string, patterns []string, metadata map[string]any) error

// Context carries per-call execution state into tools.
type Context struct {
	SessionID string
	MessageID string
	CallID    string
	Agent     string
	WorkDir   string

	// Ask gates the call through the permission layer. Nil means allow.
	Ask AskFunc

	// FileTimes tracks read-before-edit freshness across the session.
	FileTimes *FileTimes

	// OnMetadata streams live metadata updates while the tool runs.
	OnMetadata func(title string, meta map[string]any)

	// Subcall runs a nested tool invocation under its own call ID, so
	// each nested call gets its own tool part and permission
	// attribution. Nil means execute through the registry directly.
	Subcall SubcallFunc
}

// SubcallFunc executes one nested tool call on behalf of a composite
// tool such as batch.
type SubcallFunc func(ctx context.Context, callID, toolID string, input json.RawMessage) (*Result, error)

// Resolve makes a path absolute relative to the session worktree.
func (c *Context) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.WorkDir, path)
}

// RequestPermission asks through the gate when one is wired.
func (c *Context) RequestPermission(ctx context.Context, key, title string, patterns []string, metadata map[string]any) error {
	if c.Ask == nil {
		return nil
	}
	return c.Ask(ctx, key, title, patterns, metadata)
}

// SetMetadata publishes a live metadata update.
func (c *Context) SetMetadata(title string, meta map[string]any) {
	if c.OnMetadata != nil {
		c.OnMetadata(title, meta)
	}
}

// Result is the output of one tool execution.
type Result struct {
	Title       string         `json:"title"`
	Output      string         `json:"output"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`

	// Direction picks which end of an oversized output the truncator
	// keeps. Empty means head; bash wants tail, where the exit status
	// and final output live.
	Direction Direction `json:"-"`
}

// Attachment is a non-text artifact produced by a tool.
type Attachment struct {
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"` // data: URL or file path
}

// FileTimes records when files were last read so edits can insist the
// model has seen the current content.
type FileTimes struct {
	mu   sync.Mutex
	read map[string]time.Time
}

// NewFileTimes creates an empty tracker.
func NewFileTimes() *FileTimes {
	return &FileTimes{read: make(map[string]time.Time)}
}

// MarkRead records that the file was read now.
func (f *FileTimes) MarkRead(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read[filepath.Clean(path)] = time.Now()
}

// Check verifies the file was read and has not changed on disk since.
func (f *FileTimes) Check(path string) error {
	path = filepath.Clean(path)

	f.mu.Lock()
	readAt, ok := f.read[path]
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("file %s has not been read in this session: read it before editing", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.ModTime().After(readAt) {
		return fmt.Errorf("file %s was modified since it was last read: read it again before editing", path)
	}
	return nil
}
