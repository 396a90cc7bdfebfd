package session

import (
	"encoding/json"

	"github.com/cloudwego/eino/schema"

	"github.com/agentd-dev/agentd/pkg/types"
)

// elidedOutput replaces pruned tool outputs during prompt reconstruction.
// The stored part keeps the real output for UI retrieval.
const elidedOutput = "[tool output elided to save context]"

// historyStart returns the index reconstruction starts from: just the
// latest completed summary message onward, or zero when none exists.
func historyStart(messages []*types.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Summary && m.Completed() && m.Error == nil {
			return i
		}
	}
	return 0
}

// revertVisible trims the timeline at a revert anchor: the anchored
// message and everything after it disappear, unless the anchor names a
// part, in which case the message survives with its earlier parts. The
// rows themselves stay in the store until the next prompt commits the
// revert.
func revertVisible(messages []*types.Message, parts map[string][]types.Part, revert *types.SessionRevert) []*types.Message {
	if revert == nil {
		return messages
	}
	var out []*types.Message
	for _, m := range messages {
		if m.ID > revert.MessageID {
			continue
		}
		if m.ID == revert.MessageID {
			if revert.PartID == nil {
				continue
			}
			if parts != nil {
				var kept []types.Part
				for _, p := range parts[m.ID] {
					if p.PartID() < *revert.PartID {
						kept = append(kept, p)
					}
				}
				parts[m.ID] = kept
			}
		}
		out = append(out, m)
	}
	return out
}

// buildHistory converts persisted messages and parts into the model
// request. Tool results become tool-role messages following the
// assistant message that requested them; parts marked compacted
// contribute a placeholder instead of their output.
func buildHistory(messages []*types.Message, parts map[string][]types.Part, revert *types.SessionRevert) []*schema.Message {
	messages = revertVisible(messages, parts, revert)
	start := historyStart(messages)

	var out []*schema.Message
	for _, m := range messages[start:] {
		mparts := parts[m.ID]

		switch m.Role {
		case "user":
			text := collectText(mparts)
			if text == "" {
				continue
			}
			out = append(out, schema.UserMessage(text))

		case "assistant":
			// Skip messages that died before producing anything.
			if m.Error != nil && len(mparts) == 0 {
				continue
			}

			asst := &schema.Message{Role: schema.Assistant, Content: collectText(mparts)}
			var results []*schema.Message
			for _, p := range mparts {
				tp, ok := p.(*types.ToolPart)
				if !ok {
					continue
				}
				// Nested calls replay through their parent's output.
				if tp.Parent != "" {
					continue
				}
				args, _ := json.Marshal(tp.State.Input)
				asst.ToolCalls = append(asst.ToolCalls, schema.ToolCall{
					ID: tp.CallID,
					Function: schema.FunctionCall{
						Name:      tp.Tool,
						Arguments: string(args),
					},
				})
				results = append(results, schema.ToolMessage(toolResultContent(tp), tp.CallID))
			}
			if asst.Content == "" && len(asst.ToolCalls) == 0 {
				continue
			}
			out = append(out, asst)
			out = append(out, results...)
		}
	}
	return out
}

func collectText(parts []types.Part) string {
	var text string
	for _, p := range parts {
		if tp, ok := p.(*types.TextPart); ok {
			text += tp.Text
		}
	}
	return text
}

func toolResultContent(tp *types.ToolPart) string {
	switch tp.State.Status {
	case types.ToolCompleted:
		if tp.State.Time.Compacted != nil {
			return elidedOutput
		}
		return tp.State.Output
	case types.ToolError:
		return "Error: " + tp.State.Error
	default:
		// Pending at reconstruction time means the turn was cut short.
		return "Error: tool call did not complete"
	}
}
