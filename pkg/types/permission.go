package types

// PermissionAction is the outcome of a permission rule evaluation.
type PermissionAction string

const (
	ActionAllow PermissionAction = "allow"
	ActionDeny  PermissionAction = "deny"
	ActionAsk   PermissionAction = "ask"
)

// PermissionRule matches a tool-defined key against a glob pattern.
// Rules are evaluated in order; the first matching rule wins.
type PermissionRule struct {
	Pattern string           `json:"pattern"`
	Action  PermissionAction `json:"action"`
}

// Todo is a single entry in a session's todo list.
type Todo struct {
	ID       string     `json:"id"`
	Content  string     `json:"content"`
	Status   TodoStatus `json:"status"`
	Priority string     `json:"priority,omitempty"` // "high" | "medium" | "low"
}

// TodoStatus is the lifecycle state of a todo entry.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoDone       TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)
