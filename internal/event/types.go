package event

import "github.com/agentd-dev/agentd/pkg/types"

// SessionUpdatedData is the payload for session.updated events.
type SessionUpdatedData struct {
	Info *types.Session `json:"info"`
}

// SessionDeletedData is the payload for session.deleted events.
type SessionDeletedData struct {
	Info *types.Session `json:"info"`
}

// SessionErrorData is the payload for session.error events.
type SessionErrorData struct {
	SessionID string              `json:"sessionID,omitempty"`
	Error     *types.SessionError `json:"error,omitempty"`
}

// SessionIdleData is the payload for session.idle events.
type SessionIdleData struct {
	SessionID string `json:"sessionID"`
}

// SessionCompactedData is the payload for session.compacted events. The
// message ID points at the summary message that replaced the history.
type SessionCompactedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

// MessageUpdatedData is the payload for message.updated events.
type MessageUpdatedData struct {
	Info *types.Message `json:"info"`
}

// MessageRemovedData is the payload for message.removed events.
type MessageRemovedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

// MessagePartUpdatedData is the payload for message.part.updated events.
// Delta carries the incremental text for streaming parts.
type MessagePartUpdatedData struct {
	Part  types.Part `json:"part"`
	Delta string     `json:"delta,omitempty"`
}

// TodoUpdatedData is the payload for todo.updated events.
type TodoUpdatedData struct {
	SessionID string       `json:"sessionID"`
	Todos     []types.Todo `json:"todos"`
}

// PermissionUpdatedData is the payload for permission.updated events,
// describing a pending permission request.
type PermissionUpdatedData struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID,omitempty"`
	CallID    string         `json:"callID,omitempty"`
	Tool      string         `json:"tool"`
	Title     string         `json:"title"`
	Patterns  []string       `json:"patterns"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PermissionRepliedData is the payload for permission.replied events.
type PermissionRepliedData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Response  string `json:"response"` // "once" | "always" | "reject"
}

// FileEditedData is the payload for file.edited events.
type FileEditedData struct {
	File string `json:"file"`
}

// FileWatcherUpdatedData is the payload for file.watcher.updated events.
type FileWatcherUpdatedData struct {
	File  string `json:"file"`
	Event string `json:"event"` // "add" | "change" | "unlink"
}

// ProjectUpdatedData is the payload for project.updated events.
type ProjectUpdatedData struct {
	Info *types.Project `json:"info"`
}

// DroppedData is the payload for the per-subscriber Dropped marker.
type DroppedData struct {
	Count int `json:"count"`
}
