package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentd-dev/agentd/internal/store"
	"github.com/agentd-dev/agentd/pkg/types"
)

const todoreadDescription = `Use this tool to read your todo list`

// TodoReadTool reads the current todo list for a session.
type TodoReadTool struct {
	store *store.Store
}

// NewTodoReadTool creates a new todoread tool.
func NewTodoReadTool(st *store.Store) *TodoReadTool {
	return &TodoReadTool{store: st}
}

func (t *TodoReadTool) ID() string          { return "todoread" }
func (t *TodoReadTool) Description() string { return todoreadDescription }

func (t *TodoReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {}
	}`)
}

func (t *TodoReadTool) Execute(ctx context.Context, input json.RawMessage, tctx *Context) (*Result, error) {
	todos, err := t.store.Repo().GetTodos(ctx, tctx.SessionID)
	if err != nil {
		return nil, fmt.Errorf("get todos: %w", err)
	}
	if todos == nil {
		todos = []types.Todo{}
	}

	open := 0
	for _, todo := range todos {
		if todo.Status != types.TodoDone && todo.Status != types.TodoCancelled {
			open++
		}
	}

	output, _ := json.MarshalIndent(todos, "", "  ")
	return &Result{
		Title:  fmt.Sprintf("%d todos", open),
		Output: string(output),
		Metadata: map[string]any{
			"todos": todos,
		},
	}, nil
}
