package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/id"
	"github.com/agentd-dev/agentd/internal/provider"
	"github.com/agentd-dev/agentd/pkg/types"
)

// stepResult is what one model step produced: the finish info plus the
// tool calls awaiting execution.
type stepResult struct {
	finish    provider.FinishStep
	toolParts []*types.ToolPart
}

// consumeStream drains one provider stream into parts on the assistant
// message. Every delta persists the current part and publishes
// message.part.updated with the increment. Tool calls are left pending
// for the dispatcher.
func (e *Engine) consumeStream(ctx context.Context, stream provider.Stream, msg *types.Message) (*stepResult, error) {
	defer stream.Close()

	res := &stepResult{}
	var text *types.TextPart
	var reasoning *types.ReasoningPart
	byCall := make(map[string]*types.ToolPart)
	var lastCall *types.ToolPart

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}

		switch ev := ev.(type) {
		case provider.TextDelta:
			if text == nil {
				now := time.Now().UnixMilli()
				text = &types.TextPart{
					ID:        id.Ascending(id.Part),
					SessionID: msg.SessionID,
					MessageID: msg.ID,
					Type:      "text",
					Time:      types.PartTime{Start: &now},
				}
			}
			text.Text += ev.Text
			e.putPart(ctx, text, ev.Text)

		case provider.TextEnd:
			if text != nil {
				now := time.Now().UnixMilli()
				text.Time.End = &now
				e.putPart(ctx, text, "")
				text = nil
			}

		case provider.ReasoningDelta:
			if reasoning == nil {
				now := time.Now().UnixMilli()
				reasoning = &types.ReasoningPart{
					ID:        id.Ascending(id.Part),
					SessionID: msg.SessionID,
					MessageID: msg.ID,
					Type:      "reasoning",
					Time:      types.PartTime{Start: &now},
				}
			}
			reasoning.Text += ev.Text
			e.putPart(ctx, reasoning, ev.Text)

		case provider.ReasoningEnd:
			if reasoning != nil {
				now := time.Now().UnixMilli()
				reasoning.Time.End = &now
				e.putPart(ctx, reasoning, "")
				reasoning = nil
			}

		case provider.ToolCallStart:
			part := &types.ToolPart{
				ID:        id.Ascending(id.Part),
				SessionID: msg.SessionID,
				MessageID: msg.ID,
				Type:      "tool",
				CallID:    ev.CallID,
				Tool:      ev.Name,
				State:     types.ToolState{Status: types.ToolPending},
			}
			byCall[ev.CallID] = part
			lastCall = part
			res.toolParts = append(res.toolParts, part)
			e.putPart(ctx, part, "")

		case provider.ToolCallDelta:
			part := byCall[ev.CallID]
			if part == nil {
				// Some providers omit the ID on continuation fragments.
				part = lastCall
			}
			if part != nil {
				part.State.Raw += ev.Delta
			}

		case provider.FinishStep:
			res.finish = ev
		}
	}

	// Argument JSON is complete once the step finishes.
	for _, part := range res.toolParts {
		if part.State.Raw != "" {
			var input map[string]any
			if err := json.Unmarshal([]byte(part.State.Raw), &input); err == nil {
				part.State.Input = input
			}
		}
		e.putPart(ctx, part, "")
	}

	return res, nil
}

// putPart persists a part and publishes its update. Persistence failures
// abort the tick via logging only; the next write retries the row.
func (e *Engine) putPart(ctx context.Context, part types.Part, delta string) {
	if err := e.store.Repo().PutPart(ctx, part); err != nil {
		e.logPersistError(part.PartID(), err)
	}
	e.bus.Publish(event.MessagePartUpdated, event.MessagePartUpdatedData{Part: part, Delta: delta})
}
