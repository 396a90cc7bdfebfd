package types

// Message represents either a user or assistant message in a conversation.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"` // "user" | "assistant"
	Time      MessageTime `json:"time"`

	// User-specific fields
	Agent string    `json:"agent,omitempty"`
	Model *ModelRef `json:"model,omitempty"`

	// Assistant-specific fields
	ParentID   string        `json:"parentID,omitempty"` // the user message that prompted this
	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	System     []string      `json:"system,omitempty"` // system prompt snapshot
	Mode       string        `json:"mode,omitempty"`   // agent name
	Path       *MessagePath  `json:"path,omitempty"`
	Cost       float64       `json:"cost"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Summary    bool          `json:"summary,omitempty"` // true for compaction summaries
	Error      *SessionError `json:"error,omitempty"`
}

// Completed reports whether the message has reached a terminal state.
func (m *Message) Completed() bool {
	return m.Time.Completed != nil
}

// MessageTime contains timestamps for a message (unix milliseconds).
// Completed is set exactly once when the message reaches a terminal state.
type MessageTime struct {
	Created   int64  `json:"created"`
	Completed *int64 `json:"completed,omitempty"`
}

// MessagePath contains the working directory and project root at the time
// the assistant message was produced.
type MessagePath struct {
	Cwd  string `json:"cwd"`
	Root string `json:"root"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// TokenUsage contains token usage statistics for a message. All fields are
// required by UIs, do not use omitempty.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning"`
	Cache     CacheUsage `json:"cache"`
}

// CacheUsage contains prompt cache read/write statistics.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// Add accumulates usage from one model step.
func (t *TokenUsage) Add(other TokenUsage) {
	t.Input += other.Input
	t.Output += other.Output
	t.Reasoning += other.Reasoning
	t.Cache.Read += other.Cache.Read
	t.Cache.Write += other.Cache.Write
}

// Total returns the context-relevant token count used by overflow detection.
func (t TokenUsage) Total() int {
	return t.Input + t.Output + t.Cache.Read
}
