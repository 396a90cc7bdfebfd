package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/agentd-dev/agentd/pkg/types"
)

// Provider is one configured LLM backend.
type Provider interface {
	// ID returns the provider identifier ("anthropic", "openai", ...).
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the provider's model catalog.
	Models() []types.Model

	// Model looks up a catalog entry by ID.
	Model(modelID string) (types.Model, bool)

	// Stream starts a streaming completion.
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Request describes one model call.
type Request struct {
	ModelID     string
	System      []string // system prompts, in order
	Messages    []*schema.Message
	Tools       []*schema.ToolInfo
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Stream delivers typed events for one completion. Recv returns io.EOF
// after the final FinishStep event.
type Stream interface {
	Recv() (StreamEvent, error)
	Close()
}

// StreamEvent is the closed set of events a provider stream emits.
type StreamEvent interface {
	streamEvent()
}

// TextDelta carries an increment of assistant text.
type TextDelta struct {
	Text string
}

func (TextDelta) streamEvent() {}

// TextEnd closes the current text block.
type TextEnd struct{}

func (TextEnd) streamEvent() {}

// ReasoningDelta carries an increment of extended-thinking text.
type ReasoningDelta struct {
	Text string
}

func (ReasoningDelta) streamEvent() {}

// ReasoningEnd closes the current reasoning block.
type ReasoningEnd struct{}

func (ReasoningEnd) streamEvent() {}

// ToolCallStart announces a tool call; argument JSON follows as deltas.
type ToolCallStart struct {
	CallID string
	Name   string
}

func (ToolCallStart) streamEvent() {}

// ToolCallDelta carries a fragment of a tool call's argument JSON.
type ToolCallDelta struct {
	CallID string
	Delta  string
}

func (ToolCallDelta) streamEvent() {}

// FinishStep closes one model step with its finish reason and usage.
// Reason "tool_use" means the assistant requested tool calls and the turn
// loop should execute them and call the model again.
type FinishStep struct {
	Reason string
	Usage  types.TokenUsage
}

func (FinishStep) streamEvent() {}

// ToolInfo is a registry tool descriptor in provider-neutral form.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
}

// ConvertTools converts registry descriptors to Eino tool infos.
func ConvertTools(tools []ToolInfo) []*schema.ToolInfo {
	result := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		var params map[string]*schema.ParameterInfo
		if len(t.Parameters) > 0 {
			params = parseJSONSchemaParams(t.Parameters)
		}
		result[i] = &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		}
	}
	return result
}

func parseJSONSchemaParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var js struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schemaJSON, &js); err != nil {
		return nil
	}

	required := make(map[string]bool, len(js.Required))
	for _, r := range js.Required {
		required[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(js.Properties))
	for name, prop := range js.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}
		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: required[name],
		}
	}
	return params
}

// withSystem prepends system prompts as system messages.
func withSystem(system []string, messages []*schema.Message) []*schema.Message {
	if len(system) == 0 {
		return messages
	}
	out := make([]*schema.Message, 0, len(system)+len(messages))
	for _, s := range system {
		out = append(out, schema.SystemMessage(s))
	}
	return append(out, messages...)
}

// ClassifyError maps a raw provider error onto the session error taxonomy.
// Credential rejections become AuthError so the engine can stop retrying.
func ClassifyError(providerID string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "401") ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "invalid x-api-key") ||
		strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "unauthorized") {
		return types.NewAuthError(providerID, msg)
	}
	return err
}

// ParseModelString splits "provider/model". A bare model returns an empty
// provider ID.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}
