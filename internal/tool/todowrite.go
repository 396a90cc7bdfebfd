package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/store"
	"github.com/agentd-dev/agentd/pkg/types"
)

const todowriteDescription = `Use this tool to create and manage a structured task list for your current coding session. This helps you track progress, organize complex tasks, and demonstrate thoroughness.

## When to Use This Tool

1. Complex multi-step tasks - When a task requires 3 or more distinct steps
2. Non-trivial tasks that require careful planning or multiple operations
3. The user explicitly asks for a todo list
4. The user provides multiple tasks (numbered or comma-separated)
5. After receiving new instructions - capture the requirements as todos
6. When you start working on a task - mark it in_progress BEFORE beginning
7. After completing a task - mark it completed immediately

## When NOT to Use This Tool

Skip it for a single straightforward task, trivial work, or purely
conversational requests.

## Task States

- pending: not yet started
- in_progress: currently working on (limit to ONE at a time)
- completed: finished successfully
- cancelled: no longer needed

Update statuses in real time and remove tasks that are no longer relevant.`

// TodoWriteTool replaces the session's todo list.
type TodoWriteTool struct {
	store *store.Store
	bus   *event.Bus
}

// TodoWriteInput represents the input for the todowrite tool.
type TodoWriteInput struct {
	Todos []types.Todo `json:"todos"`
}

// NewTodoWriteTool creates a new todowrite tool.
func NewTodoWriteTool(st *store.Store, bus *event.Bus) *TodoWriteTool {
	return &TodoWriteTool{store: st, bus: bus}
}

func (t *TodoWriteTool) ID() string          { return "todowrite" }
func (t *TodoWriteTool) Description() string { return todowriteDescription }

func (t *TodoWriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"todos": {
				"type": "array",
				"description": "The updated todo list",
				"items": {
					"type": "object",
					"properties": {
						"id": {
							"type": "string",
							"description": "Unique identifier for the todo item"
						},
						"content": {
							"type": "string",
							"description": "Brief description of the task"
						},
						"status": {
							"type": "string",
							"description": "Current status: pending, in_progress, completed, cancelled"
						},
						"priority": {
							"type": "string",
							"description": "Priority level: high, medium, low"
						}
					},
					"required": ["id", "content", "status"]
				}
			}
		},
		"required": ["todos"]
	}`)
}

func (t *TodoWriteTool) Execute(ctx context.Context, input json.RawMessage, tctx *Context) (*Result, error) {
	var params TodoWriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if err := t.store.Repo().PutTodos(ctx, tctx.SessionID, params.Todos); err != nil {
		return nil, fmt.Errorf("update todos: %w", err)
	}

	if t.bus != nil {
		t.bus.Publish(event.TodoUpdated, event.TodoUpdatedData{
			SessionID: tctx.SessionID,
			Todos:     params.Todos,
		})
	}

	open := 0
	for _, todo := range params.Todos {
		if todo.Status != types.TodoDone && todo.Status != types.TodoCancelled {
			open++
		}
	}

	output, _ := json.MarshalIndent(params.Todos, "", "  ")
	return &Result{
		Title:  fmt.Sprintf("%d todos", open),
		Output: string(output),
		Metadata: map[string]any{
			"todos": params.Todos,
		},
	}, nil
}
