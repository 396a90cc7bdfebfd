// Package types provides the core data types for the agentd server.
package types

// Session represents an ordered conversation with the LLM. Messages within
// a session are totally ordered by their sortable IDs, and at most one
// message is in flight (time.completed unset) at any moment.
type Session struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"projectID"`
	ParentID    *string          `json:"parentID,omitempty"`
	Title       string           `json:"title"`
	Directory   string           `json:"directory"`
	Version     string           `json:"version"`
	Summary     SessionSummary   `json:"summary"`
	Share       *ShareInfo       `json:"share,omitempty"`
	Time        SessionTime      `json:"time"`
	Revert      *SessionRevert   `json:"revert,omitempty"`
	Permissions []PermissionRule `json:"permissions,omitempty"`
}

// SessionSummary contains statistics about code changes in a session.
type SessionSummary struct {
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Files     int        `json:"files"`
	Diffs     []FileDiff `json:"diffs,omitempty"`
}

// FileDiff represents accumulated changes to a single file.
type FileDiff struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Diff      string `json:"diff,omitempty"` // unified diff text
}

// SessionTime contains timestamps for a session (unix milliseconds).
type SessionTime struct {
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Compacting *int64 `json:"compacting,omitempty"`
	Archived   *int64 `json:"archived,omitempty"`
}

// ShareInfo is the opaque handle to an external publishing service.
type ShareInfo struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// SessionRevert anchors a session revert point.
type SessionRevert struct {
	MessageID string  `json:"messageID"`
	PartID    *string `json:"partID,omitempty"`
	Snapshot  *string `json:"snapshot,omitempty"`
	Diff      *string `json:"diff,omitempty"`
}
