package session

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/id"
	"github.com/agentd-dev/agentd/internal/provider"
	"github.com/agentd-dev/agentd/internal/store"
	"github.com/agentd-dev/agentd/pkg/types"
)

// compactOutputCap bounds the context reserved for the model's reply
// when deciding whether history still fits.
const compactOutputCap = 32000

const summaryInstruction = "Summarize this conversation so work can continue " +
	"from the summary alone. Preserve: what was accomplished, work in " +
	"progress, files involved and their state, key decisions, and the next " +
	"steps. Be concise but complete; the full history will not be available."

const summarySystemPrompt = "You are summarizing an agent coding session. " +
	"Output only the summary."

// Compactor keeps sessions inside the model's context window, first by
// pruning old tool outputs, then by replacing history with a generated
// summary message.
type Compactor struct {
	store     *store.Store
	bus       *event.Bus
	providers *provider.Registry
}

// NewCompactor creates a compactor.
func NewCompactor(st *store.Store, bus *event.Bus, providers *provider.Registry) *Compactor {
	return &Compactor{store: st, bus: bus, providers: providers}
}

// IsOverflow reports whether the step's context usage leaves too little
// room for another full reply.
func (c *Compactor) IsOverflow(usage types.TokenUsage, model types.Model) bool {
	if model.ContextLimit == 0 {
		return false
	}
	reserve := model.OutputLimit
	if reserve == 0 || reserve > compactOutputCap {
		reserve = compactOutputCap
	}
	return usage.Total() > model.ContextLimit-reserve
}

// Compact streams a small-model summary of the session into a new
// assistant message marked summary=true. Future prompt reconstruction
// starts from that message. A failure other than cancellation is
// recorded on the summary message, leaving the session recoverable.
func (c *Compactor) Compact(ctx context.Context, sessionID, agentName string) (*types.Message, error) {
	repo := c.store.Repo()

	sess, err := repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	allParts, err := repo.ListSessionParts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	byMsg := make(map[string][]types.Part)
	for _, p := range allParts {
		byMsg[p.PartMessageID()] = append(byMsg[p.PartMessageID()], p)
	}

	prov, model, err := c.providers.ResolveSmall()
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	sess.Time.Compacting = &now
	if err := repo.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	defer func() {
		sess.Time.Compacting = nil
		sess.Time.Updated = time.Now().UnixMilli()
		_ = repo.PutSession(context.WithoutCancel(ctx), sess)
		c.bus.Publish(event.SessionUpdated, event.SessionUpdatedData{Info: sess})
	}()

	summary := &types.Message{
		ID:         id.Ascending(id.Message),
		SessionID:  sessionID,
		Role:       "assistant",
		ProviderID: prov.ID(),
		ModelID:    model.ID,
		Mode:       agentName,
		Summary:    true,
		Tokens:     &types.TokenUsage{},
		Time:       types.MessageTime{Created: now},
	}
	if err := repo.PutMessage(ctx, summary); err != nil {
		return nil, err
	}
	c.bus.Publish(event.MessageUpdated, event.MessageUpdatedData{Info: summary})

	history := buildHistory(messages, byMsg, sess.Revert)
	history = append(history, schema.UserMessage(summaryInstruction))

	stream, err := prov.Stream(ctx, provider.Request{
		ModelID:   model.ID,
		System:    []string{summarySystemPrompt},
		Messages:  history,
		MaxTokens: model.OutputLimit,
	})
	if err != nil {
		return c.finishSummary(ctx, summary, types.AsSessionError(provider.ClassifyError(prov.ID(), err)))
	}
	defer stream.Close()

	part := &types.TextPart{
		ID:        id.Ascending(id.Part),
		SessionID: sessionID,
		MessageID: summary.ID,
		Type:      "text",
	}

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.finishSummary(ctx, summary, types.AsSessionError(err))
		}
		switch ev := ev.(type) {
		case provider.TextDelta:
			part.Text += ev.Text
			if err := repo.PutPart(ctx, part); err == nil {
				c.bus.Publish(event.MessagePartUpdated, event.MessagePartUpdatedData{Part: part, Delta: ev.Text})
			}
		case provider.FinishStep:
			summary.Tokens.Add(ev.Usage)
			summary.Cost += model.Cost(ev.Usage)
		}
	}

	msg, err := c.finishSummary(ctx, summary, nil)
	if err != nil {
		return msg, err
	}
	c.bus.Publish(event.SessionCompacted, event.SessionCompactedData{
		SessionID: sessionID,
		MessageID: summary.ID,
	})
	return msg, nil
}

// finishSummary stamps the summary message terminal, with or without an
// error. Aborted summaries stay errored but never publish session.error.
func (c *Compactor) finishSummary(ctx context.Context, summary *types.Message, serr *types.SessionError) (*types.Message, error) {
	now := time.Now().UnixMilli()
	summary.Time.Completed = &now
	summary.Error = serr
	if err := c.store.Repo().PutMessage(context.WithoutCancel(ctx), summary); err != nil {
		return summary, err
	}
	c.bus.Publish(event.MessageUpdated, event.MessageUpdatedData{Info: summary})
	if serr != nil {
		return summary, serr
	}
	return summary, nil
}
