package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const batchDescription = `Executes multiple independent tool calls concurrently to reduce latency. Best used for gathering context (reads, searches, listings).

Payload Format (JSON):
{"tool_calls": [{"tool": "read", "parameters": {"filePath": "src/index.go"}}, {"tool": "grep", "parameters": {"pattern": "UpdatePart"}}]}

Rules:
- 1-10 tool calls per batch
- All calls start in parallel; ordering NOT guaranteed
- Partial failures do not stop others

Disallowed Tools:
- batch (no nesting)
- edit (run edits separately)
- todoread (call directly - lightweight)

When NOT to Use:
- Operations that depend on prior tool output (e.g. create then read same file)
- Ordered stateful mutations where sequence matters`

// Batch size bounds.
const (
	minBatchSize = 1
	maxBatchSize = 10
)

// disallowedInBatch are tools that cannot run inside a batch.
var disallowedInBatch = map[string]bool{
	"batch":    true, // no nesting
	"edit":     true, // edits run separately
	"todoread": true, // lightweight, call directly
}

// BatchTool implements parallel tool execution.
type BatchTool struct {
	registry *Registry
}

// BatchInput represents the input for the batch tool.
type BatchInput struct {
	ToolCalls []BatchCall `json:"tool_calls"`
}

// BatchCall is a single tool call within a batch.
type BatchCall struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
}

// batchResult is the outcome of one call in the batch.
type batchResult struct {
	index   int
	tool    string
	result  *Result
	err     error
	elapsed time.Duration
}

// NewBatchTool creates a new batch tool.
func NewBatchTool(registry *Registry) *BatchTool {
	return &BatchTool{registry: registry}
}

func (t *BatchTool) ID() string          { return "batch" }
func (t *BatchTool) Description() string { return batchDescription }

func (t *BatchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tool_calls": {
				"type": "array",
				"description": "Array of tool calls to execute in parallel (1-10)",
				"items": {
					"type": "object",
					"properties": {
						"tool": {
							"type": "string",
							"description": "The name of the tool to execute"
						},
						"parameters": {
							"type": "object",
							"description": "Parameters for the tool"
						}
					},
					"required": ["tool", "parameters"]
				}
			}
		},
		"required": ["tool_calls"]
	}`)
}

func (t *BatchTool) Execute(ctx context.Context, input json.RawMessage, tctx *Context) (*Result, error) {
	var params BatchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if len(params.ToolCalls) < minBatchSize || len(params.ToolCalls) > maxBatchSize {
		return nil, fmt.Errorf("batch requires between %d and %d tool calls, got %d",
			minBatchSize, maxBatchSize, len(params.ToolCalls))
	}

	results := make([]*batchResult, len(params.ToolCalls))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for i, call := range params.ToolCalls {
		i, call := i, call
		g.Go(func() error {
			r := t.executeCall(gctx, i, call, tctx)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil // partial failures do not stop the batch
		})
	}
	_ = g.Wait()

	return t.formatResults(results), nil
}

func (t *BatchTool) executeCall(ctx context.Context, index int, call BatchCall, tctx *Context) *batchResult {
	start := time.Now()
	r := &batchResult{index: index, tool: call.Tool}
	defer func() { r.elapsed = time.Since(start) }()

	if disallowedInBatch[call.Tool] {
		r.err = fmt.Errorf("tool %q is not allowed in batch", call.Tool)
		return r
	}

	impl, ok := t.registry.Get(call.Tool)
	if !ok {
		r.err = fmt.Errorf("tool %q not found; available tools: %s",
			call.Tool, strings.Join(t.availableTools(), ", "))
		return r
	}

	// Each call gets its own call ID so permission asks and metadata stay
	// attributable to the individual sub-call.
	callID := fmt.Sprintf("%s-batch-%d", tctx.CallID, index)

	// Under the engine every sub-call records its own tool part; the
	// direct path serves tests and standalone use.
	if tctx.Subcall != nil {
		r.result, r.err = tctx.Subcall(ctx, callID, call.Tool, call.Parameters)
		return r
	}

	callCtx := &Context{
		SessionID: tctx.SessionID,
		MessageID: tctx.MessageID,
		CallID:    callID,
		Agent:     tctx.Agent,
		WorkDir:   tctx.WorkDir,
		Ask:       tctx.Ask,
		FileTimes: tctx.FileTimes,
	}

	r.result, r.err = impl.Execute(ctx, call.Parameters, callCtx)
	return r
}

func (t *BatchTool) formatResults(results []*batchResult) *Result {
	succeeded := 0
	var parts []string
	var attachments []Attachment
	details := make([]map[string]any, 0, len(results))

	for _, r := range results {
		detail := map[string]any{
			"tool":    r.tool,
			"success": r.err == nil,
			"timeMs":  r.elapsed.Milliseconds(),
		}
		if r.err != nil {
			parts = append(parts, fmt.Sprintf("=== %s (failed) ===\n%s", r.tool, r.err))
			detail["error"] = r.err.Error()
		} else {
			succeeded++
			parts = append(parts, fmt.Sprintf("=== %s (success) ===\n%s", r.tool, r.result.Output))
			attachments = append(attachments, r.result.Attachments...)
			detail["title"] = r.result.Title
		}
		details = append(details, detail)
	}

	failed := len(results) - succeeded
	var output string
	if failed > 0 {
		output = fmt.Sprintf("Executed %d/%d tools successfully. %d failed.\n\n%s",
			succeeded, len(results), failed, strings.Join(parts, "\n\n"))
	} else {
		output = fmt.Sprintf("All %d tools executed successfully.\n\n%s",
			succeeded, strings.Join(parts, "\n\n"))
	}

	return &Result{
		Title:       fmt.Sprintf("Batch execution (%d/%d successful)", succeeded, len(results)),
		Output:      output,
		Attachments: attachments,
		Metadata: map[string]any{
			"totalCalls": len(results),
			"successful": succeeded,
			"failed":     failed,
			"details":    details,
		},
	}
}

func (t *BatchTool) availableTools() []string {
	var available []string
	for _, id := range t.registry.IDs() {
		if !disallowedInBatch[id] {
			available = append(available, id)
		}
	}
	sort.Strings(available)
	return available
}
