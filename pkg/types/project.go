package types

// Project represents a workspace project. Projects are keyed by the root
// commit of their version control system, or the literal "global" when the
// directory is not under version control. The ID therefore survives moves
// of the worktree.
type Project struct {
	ID        string      `json:"id"`
	Worktree  string      `json:"worktree"`
	VCS       string      `json:"vcs,omitempty"` // "git" or empty
	Name      string      `json:"name,omitempty"`
	IconURL   string      `json:"iconUrl,omitempty"`
	IconColor string      `json:"iconColor,omitempty"`
	Time      ProjectTime `json:"time"`
	Sandboxes []string    `json:"sandboxes,omitempty"`
}

// ProjectTime contains project timestamps (unix milliseconds).
type ProjectTime struct {
	Created     int64  `json:"created"`
	Updated     int64  `json:"updated"`
	Initialized *int64 `json:"initialized,omitempty"`
}
