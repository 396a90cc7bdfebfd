package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/agentd-dev/agentd/internal/event"
)

const editDescription = `Performs exact string replacements in files.

Usage:
- The file must have been read in this session before editing
- The oldString must exist in the file (exact match required)
- The newString will replace oldString
- Use replaceAll to replace all occurrences
- The edit will FAIL if oldString is not unique (unless using replaceAll)`

// EditTool implements file editing.
type EditTool struct {
	bus *event.Bus
}

// EditInput represents the input for the edit tool.
type EditInput struct {
	FilePath   string `json:"filePath"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

// NewEditTool creates a new edit tool.
func NewEditTool(bus *event.Bus) *EditTool {
	return &EditTool{bus: bus}
}

func (t *EditTool) ID() string          { return "edit" }
func (t *EditTool) Description() string { return editDescription }

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the file to edit"
			},
			"oldString": {
				"type": "string",
				"description": "The exact text to replace"
			},
			"newString": {
				"type": "string",
				"description": "The text to replace it with"
			},
			"replaceAll": {
				"type": "boolean",
				"description": "Replace all occurrences (default: false)"
			}
		},
		"required": ["filePath", "oldString", "newString"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, tctx *Context) (*Result, error) {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.OldString == params.NewString {
		return nil, fmt.Errorf("oldString and newString must be different")
	}

	path := tctx.Resolve(params.FilePath)

	if tctx.FileTimes != nil {
		if err := tctx.FileTimes.Check(path); err != nil {
			return nil, err
		}
	}

	title := fmt.Sprintf("Edit %s", filepath.Base(path))
	if err := tctx.RequestPermission(ctx, path, title, []string{path}, map[string]any{
		"file": path,
	}); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	text := string(content)

	newText, count, note, err := replace(text, params)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, []byte(newText), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	if tctx.FileTimes != nil {
		tctx.FileTimes.MarkRead(path)
	}
	if t.bus != nil && tctx.SessionID != "" {
		t.bus.Publish(event.FileEdited, event.FileEditedData{File: path})
	}

	diff, additions, deletions := buildDiffMetadata(path, text, newText, tctx.WorkDir)

	output := fmt.Sprintf("Replaced %d occurrence(s)", count)
	if note != "" {
		output += " (" + note + ")"
	}

	return &Result{
		Title:  fmt.Sprintf("Edited %s", filepath.Base(path)),
		Output: output,
		Metadata: map[string]any{
			"file":         path,
			"replacements": count,
			"diff":         diff,
			"additions":    additions,
			"deletions":    deletions,
		},
	}, nil
}

// replace applies the edit: exact match first, then line-ending
// normalisation, then a fuzzy nearest-match fallback.
func replace(text string, params EditInput) (newText string, count int, note string, err error) {
	occurrences := strings.Count(text, params.OldString)
	switch {
	case occurrences > 0 && params.ReplaceAll:
		return strings.ReplaceAll(text, params.OldString, params.NewString), occurrences, "", nil
	case occurrences == 1:
		return strings.Replace(text, params.OldString, params.NewString, 1), 1, "", nil
	case occurrences > 1:
		return "", 0, "", fmt.Errorf("oldString appears %d times in file: use replaceAll or provide more context", occurrences)
	}

	normalizedOld := normalizeLineEndings(params.OldString)
	normalizedText := normalizeLineEndings(text)
	if strings.Contains(normalizedText, normalizedOld) {
		return strings.Replace(normalizedText, normalizedOld, params.NewString, 1), 1,
			"with line ending normalization", nil
	}

	match, sim := findBestMatch(text, params.OldString)
	if match != "" && sim >= 0.7 {
		return strings.Replace(text, match, params.NewString, 1), 1,
			fmt.Sprintf("%.0f%% similarity match", sim*100), nil
	}

	return "", 0, "", fmt.Errorf("oldString not found in file: the content may have changed")
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// findBestMatch finds the line block most similar to target.
func findBestMatch(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	targetLines := strings.Split(target, "\n")
	targetLen := len(targetLines)

	bestMatch := ""
	bestSimilarity := 0.0

	for i := 0; i <= len(lines)-targetLen; i++ {
		block := strings.Join(lines[i:i+targetLen], "\n")
		if sim := similarity(block, target); sim > bestSimilarity {
			bestSimilarity = sim
			bestMatch = block
		}
	}
	return bestMatch, bestSimilarity
}

// similarity is normalised Levenshtein similarity in [0, 1].
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// Length ratio approximation for extreme inputs.
	if len(a) > 10000 || len(b) > 10000 {
		maxLen := max(len(a), len(b))
		minLen := min(len(a), len(b))
		return float64(minLen) / float64(maxLen)
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(max(len(a), len(b)))
}
