package tool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentd-dev/agentd/internal/id"
	"github.com/agentd-dev/agentd/internal/logging"
)

// Output bounds before a tool result is handed back to the model.
const (
	MaxOutputLines = 2000
	MaxOutputBytes = 51200
)

// spillMaxAge is how long spilled outputs are kept before GC.
const spillMaxAge = 7 * 24 * time.Hour

// Direction selects which end of an oversized output survives.
type Direction string

const (
	Head Direction = "head"
	Tail Direction = "tail"
)

// Truncator caps tool output and spills the full text to disk when the
// bounds are exceeded. Spill file names are tool-output IDs, so age is
// recoverable from the name alone.
type Truncator struct {
	dir    string
	gcOnce sync.Once
}

// NewTruncator creates a truncator spilling into dir.
func NewTruncator(dir string) *Truncator {
	return &Truncator{dir: dir}
}

// Truncated is the outcome of one truncation pass.
type Truncated struct {
	Content   string
	Truncated bool
	OutputID  string // spill file name, set only when truncated
}

// Truncate bounds the output at MaxOutputLines and MaxOutputBytes. When
// either bound is exceeded, the full text is written to the spill
// directory and the returned content carries a preview plus a marker.
func (t *Truncator) Truncate(output string, direction Direction) (Truncated, error) {
	t.gcOnce.Do(t.gc)

	lines := strings.Split(output, "\n")
	if len(lines) <= MaxOutputLines && len(output) <= MaxOutputBytes {
		return Truncated{Content: output}, nil
	}

	outputID := id.Ascending(id.ToolOutput)
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return Truncated{}, fmt.Errorf("create spill dir: %w", err)
	}
	path := filepath.Join(t.dir, outputID)
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return Truncated{}, fmt.Errorf("spill output: %w", err)
	}

	preview, droppedLines := previewOf(lines, direction)
	marker := fmt.Sprintf("\n\n... %d lines truncated ...\n", droppedLines)
	if droppedLines == 0 {
		marker = fmt.Sprintf("\n\n... %d characters truncated ...\n", len(output)-len(preview))
	}
	hint := fmt.Sprintf("(Full output: %s)", path)

	return Truncated{
		Content:   preview + marker + hint,
		Truncated: true,
		OutputID:  outputID,
	}, nil
}

// previewOf keeps the chosen end of the output within both bounds.
func previewOf(lines []string, direction Direction) (string, int) {
	kept := lines
	dropped := 0
	if len(lines) > MaxOutputLines {
		dropped = len(lines) - MaxOutputLines
		if direction == Tail {
			kept = lines[dropped:]
		} else {
			kept = lines[:MaxOutputLines]
		}
	}

	preview := strings.Join(kept, "\n")
	if len(preview) > MaxOutputBytes {
		if direction == Tail {
			preview = preview[len(preview)-MaxOutputBytes:]
		} else {
			preview = preview[:MaxOutputBytes]
		}
	}
	return preview, dropped
}

// gc removes spill files older than spillMaxAge, judged by the timestamp
// embedded in the file name. Best effort; errors are logged and ignored.
func (t *Truncator) gc() {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-spillMaxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		created, err := id.Timestamp(entry.Name())
		if err != nil {
			continue // not a spill file
		}
		if created.Before(cutoff) {
			if err := os.Remove(filepath.Join(t.dir, entry.Name())); err != nil {
				logging.Warn().Err(err).Str("file", entry.Name()).Msg("tool output gc failed")
			}
		}
	}
}
