package session

import (
	"context"
	"time"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/pkg/types"
)

// Prune thresholds, in estimated tokens. The newest PruneProtect tokens
// of tool output are never touched, and a pass only runs when it would
// reclaim at least PruneMinimum.
const (
	PruneProtect = 40000
	PruneMinimum = 20000
)

// pruneSkipTurns is how many trailing user turns are always left intact.
const pruneSkipTurns = 2

// estimateTokens is the usual rough chars/4 heuristic.
func estimateTokens(text string) int {
	return len(text) / 4
}

// Prune walks tool outputs newest to oldest, skipping the last two user
// turns, and marks everything beyond the protect window as compacted.
// The mark is metadata only: prompt reconstruction elides the output,
// UI retrieval still sees it. Returns the number of parts marked.
func (c *Compactor) Prune(ctx context.Context, sessionID string) (int, error) {
	repo := c.store.Repo()

	messages, err := repo.ListMessages(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	// Find the cut-off: everything from the pruneSkipTurns-th newest user
	// message onward is untouchable.
	skipFrom := ""
	seen := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			seen++
			if seen == pruneSkipTurns {
				skipFrom = messages[i].ID
				break
			}
		}
	}

	parts, err := repo.ListSessionParts(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	// Newest first, accumulating protected output until the window is
	// spent; the rest are candidates.
	var candidates []*types.ToolPart
	candidateTokens := 0
	protected := 0
	for i := len(parts) - 1; i >= 0; i-- {
		tp, ok := parts[i].(*types.ToolPart)
		if !ok || tp.State.Status != types.ToolCompleted || tp.State.Time.Compacted != nil {
			continue
		}
		if skipFrom != "" && tp.MessageID >= skipFrom {
			continue
		}
		tokens := estimateTokens(tp.State.Output)
		if protected < PruneProtect {
			protected += tokens
			continue
		}
		candidates = append(candidates, tp)
		candidateTokens += tokens
	}

	// Pruning pays off only strictly above the minimum.
	if candidateTokens <= PruneMinimum {
		return 0, nil
	}

	now := time.Now().UnixMilli()
	for _, tp := range candidates {
		tp.State.Time.Compacted = &now
		if err := repo.PutPart(ctx, tp); err != nil {
			return 0, err
		}
		c.bus.Publish(event.MessagePartUpdated, event.MessagePartUpdatedData{Part: tp})
	}
	return len(candidates), nil
}
