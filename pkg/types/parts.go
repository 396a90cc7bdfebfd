package types

import (
	"encoding/json"
	"fmt"
)

// Part is a component of a message. Part IDs are sortable and strictly
// increasing within a message.
type Part interface {
	PartType() string
	PartID() string
	PartSessionID() string
	PartMessageID() string
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents a text content part. Synthetic parts are produced by
// the engine rather than the user; they are fed to the model but hidden
// from UI chrome.
type TextPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "text"
	Text      string   `json:"text"`
	Synthetic bool     `json:"synthetic,omitempty"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *TextPart) PartType() string      { return "text" }
func (p *TextPart) PartID() string        { return p.ID }
func (p *TextPart) PartSessionID() string { return p.SessionID }
func (p *TextPart) PartMessageID() string { return p.MessageID }

// ReasoningPart represents extended thinking content.
type ReasoningPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "reasoning"
	Text      string   `json:"text"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *ReasoningPart) PartType() string      { return "reasoning" }
func (p *ReasoningPart) PartID() string        { return p.ID }
func (p *ReasoningPart) PartSessionID() string { return p.SessionID }
func (p *ReasoningPart) PartMessageID() string { return p.MessageID }

// ToolStatus is the tool part state machine: pending -> completed | error.
// Terminal states never transition again.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// ToolPart represents a tool call and its result.
type ToolPart struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionID"`
	MessageID string    `json:"messageID"`
	Type      string    `json:"type"` // always "tool"
	CallID    string    `json:"callID"`
	Tool      string    `json:"tool"`
	// Parent is the call ID of the composite tool call that spawned this
	// one. Nested calls carry their own part for clients, but only the
	// parent call is replayed to the model.
	Parent string    `json:"parent,omitempty"`
	State  ToolState `json:"state"`
}

func (p *ToolPart) PartType() string      { return "tool" }
func (p *ToolPart) PartID() string        { return p.ID }
func (p *ToolPart) PartSessionID() string { return p.SessionID }
func (p *ToolPart) PartMessageID() string { return p.MessageID }

// ToolState carries the per-status payload of a tool part.
type ToolState struct {
	Status ToolStatus     `json:"status"`
	Input  map[string]any `json:"input,omitempty"`
	Raw    string         `json:"raw,omitempty"` // accumulated raw argument JSON while pending

	// Completed
	Output      string         `json:"output,omitempty"`
	Title       string         `json:"title,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []FilePart     `json:"attachments,omitempty"`

	// Error
	Error string `json:"error,omitempty"`

	Time ToolTime `json:"time,omitempty"`
}

// ToolTime contains tool execution timestamps. Compacted, once set, elides
// the output from LLM replay while UI retrieval still returns it.
type ToolTime struct {
	Start     *int64 `json:"start,omitempty"`
	End       *int64 `json:"end,omitempty"`
	Compacted *int64 `json:"compacted,omitempty"`
}

// FilePart represents a file attachment.
type FilePart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"` // always "file"
	Mime      string `json:"mime"`
	Filename  string `json:"filename,omitempty"`
	URL       string `json:"url"`
	Source    string `json:"source,omitempty"` // originating path, if any
}

func (p *FilePart) PartType() string      { return "file" }
func (p *FilePart) PartID() string        { return p.ID }
func (p *FilePart) PartSessionID() string { return p.SessionID }
func (p *FilePart) PartMessageID() string { return p.MessageID }

// StepStartPart marks a model step boundary.
type StepStartPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"` // always "step-start"
}

func (p *StepStartPart) PartType() string      { return "step-start" }
func (p *StepStartPart) PartID() string        { return p.ID }
func (p *StepStartPart) PartSessionID() string { return p.SessionID }
func (p *StepStartPart) PartMessageID() string { return p.MessageID }

// StepFinishPart closes a model step with its usage.
type StepFinishPart struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionID"`
	MessageID string     `json:"messageID"`
	Type      string     `json:"type"` // always "step-finish"
	Cost      float64    `json:"cost"`
	Tokens    TokenUsage `json:"tokens"`
}

func (p *StepFinishPart) PartType() string      { return "step-finish" }
func (p *StepFinishPart) PartID() string        { return p.ID }
func (p *StepFinishPart) PartSessionID() string { return p.SessionID }
func (p *StepFinishPart) PartMessageID() string { return p.MessageID }

// PatchPart carries file patch metadata.
type PatchPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "patch"
	Hash      string   `json:"hash"`
	Files     []string `json:"files"`
}

func (p *PatchPart) PartType() string      { return "patch" }
func (p *PatchPart) PartID() string        { return p.ID }
func (p *PatchPart) PartSessionID() string { return p.SessionID }
func (p *PatchPart) PartMessageID() string { return p.MessageID }

// UnmarshalPart unmarshals a JSON part into the appropriate concrete type.
func UnmarshalPart(data []byte) (Part, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var p Part
	switch head.Type {
	case "text":
		p = &TextPart{}
	case "reasoning":
		p = &ReasoningPart{}
	case "tool":
		p = &ToolPart{}
	case "file":
		p = &FilePart{}
	case "step-start":
		p = &StepStartPart{}
	case "step-finish":
		p = &StepFinishPart{}
	case "patch":
		p = &PatchPart{}
	default:
		return nil, fmt.Errorf("unknown part type: %q", head.Type)
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}
