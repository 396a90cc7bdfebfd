package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-dev/agentd/internal/id"
	"github.com/agentd-dev/agentd/internal/provider"
	"github.com/agentd-dev/agentd/pkg/types"
)

func TestIsOverflow(t *testing.T) {
	c := &Compactor{}
	model := types.Model{ContextLimit: 100000, OutputLimit: 8192}

	// At the boundary history still fits; one token past it does not.
	at := types.TokenUsage{Input: 100000 - 8192}
	over := types.TokenUsage{Input: 100000 - 8192 + 1}
	assert.False(t, c.IsOverflow(at, model))
	assert.True(t, c.IsOverflow(over, model))

	// Cache reads count toward the window.
	cached := types.TokenUsage{Input: 50000, Cache: types.CacheUsage{Read: 60000}}
	assert.True(t, c.IsOverflow(cached, model))
}

func TestIsOverflowReserveCap(t *testing.T) {
	c := &Compactor{}

	// A huge output limit is capped so most of the window stays usable.
	big := types.Model{ContextLimit: 200000, OutputLimit: 100000}
	assert.False(t, c.IsOverflow(types.TokenUsage{Input: 168000}, big))
	assert.True(t, c.IsOverflow(types.TokenUsage{Input: 168001}, big))

	// No declared output limit falls back to the same cap.
	unset := types.Model{ContextLimit: 200000}
	assert.True(t, c.IsOverflow(types.TokenUsage{Input: 168001}, unset))

	// Unknown context limit never overflows.
	assert.False(t, c.IsOverflow(types.TokenUsage{Input: 1 << 30}, types.Model{}))
}

// pruneEnv seeds a session with alternating user turns and completed tool
// outputs of the given sizes (in characters), newest last.
func seedToolTurns(t *testing.T, env *engineEnv, outputChars ...int) []*types.ToolPart {
	t.Helper()
	ctx := context.Background()
	repo := env.store.Repo()

	var toolParts []*types.ToolPart
	for _, size := range outputChars {
		user := &types.Message{
			ID:        id.Ascending(id.Message),
			SessionID: env.sess.ID,
			Role:      "user",
			Time:      types.MessageTime{Created: time.Now().UnixMilli()},
		}
		require.NoError(t, repo.PutMessage(ctx, user))

		done := time.Now().UnixMilli()
		asst := &types.Message{
			ID:        id.Ascending(id.Message),
			SessionID: env.sess.ID,
			Role:      "assistant",
			Time:      types.MessageTime{Created: done, Completed: &done},
		}
		require.NoError(t, repo.PutMessage(ctx, asst))

		tp := &types.ToolPart{
			ID:        id.Ascending(id.Part),
			SessionID: env.sess.ID,
			MessageID: asst.ID,
			Type:      "tool",
			CallID:    "call_" + asst.ID,
			Tool:      "bash",
			State: types.ToolState{
				Status: types.ToolCompleted,
				Output: strings.Repeat("x", size),
			},
		}
		require.NoError(t, repo.PutPart(ctx, tp))
		toolParts = append(toolParts, tp)
	}
	return toolParts
}

func TestPruneMarksOldOutputs(t *testing.T) {
	env := newEngineEnv(t)
	c := env.engine.Compactor()

	// Six turns of 120k-char outputs (~30k tokens each). The last two user
	// turns are skipped outright; the protect window then covers turns 3-4
	// from the end, leaving the two oldest as candidates (~60k tokens).
	seedToolTurns(t, env, 120000, 120000, 120000, 120000, 120000, 120000)

	marked, err := c.Prune(context.Background(), env.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	parts, err := env.store.Repo().ListSessionParts(context.Background(), env.sess.ID)
	require.NoError(t, err)

	var compacted, intact int
	for _, p := range parts {
		tp, ok := p.(*types.ToolPart)
		if !ok {
			continue
		}
		if tp.State.Time.Compacted != nil {
			compacted++
			// The output itself is untouched; only the mark is set.
			assert.Len(t, tp.State.Output, 120000)
		} else {
			intact++
		}
	}
	assert.Equal(t, 2, compacted)
	assert.Equal(t, 4, intact)
}

func TestPruneIdempotent(t *testing.T) {
	env := newEngineEnv(t)
	c := env.engine.Compactor()
	seedToolTurns(t, env, 120000, 120000, 120000, 120000, 120000, 120000)

	marked, err := c.Prune(context.Background(), env.sess.ID)
	require.NoError(t, err)
	require.Equal(t, 2, marked)

	// Already-marked parts are not candidates again.
	marked, err = c.Prune(context.Background(), env.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, marked)
}

func TestPruneMinimumIsExclusive(t *testing.T) {
	env := newEngineEnv(t)
	c := env.engine.Compactor()

	// Last two turns are skipped, the 160k-char turn fills the protect
	// window, and the oldest turn is the sole candidate at exactly the
	// minimum. The gate is strict, so nothing is marked.
	seedToolTurns(t, env, PruneMinimum*4, PruneProtect*4, 1000, 1000)

	marked, err := c.Prune(context.Background(), env.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, marked)

	// One token over the minimum and the candidate goes.
	env2 := newEngineEnv(t)
	seedToolTurns(t, env2, PruneMinimum*4+4, PruneProtect*4, 1000, 1000)

	marked, err = env2.engine.Compactor().Prune(context.Background(), env2.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
}

func TestPruneBelowMinimumDoesNothing(t *testing.T) {
	env := newEngineEnv(t)
	c := env.engine.Compactor()

	// Plenty of turns, but the candidates past the protect window are tiny:
	// under the minimum, the pass is skipped entirely.
	seedToolTurns(t, env, 4000, 4000, 80000, 80000, 80000, 80000)

	marked, err := c.Prune(context.Background(), env.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, marked)

	parts, err := env.store.Repo().ListSessionParts(context.Background(), env.sess.ID)
	require.NoError(t, err)
	for _, p := range parts {
		if tp, ok := p.(*types.ToolPart); ok {
			assert.Nil(t, tp.State.Time.Compacted)
		}
	}
}

func TestPruneSkipsRecentTurns(t *testing.T) {
	env := newEngineEnv(t)
	c := env.engine.Compactor()
	toolParts := seedToolTurns(t, env, 120000, 120000, 120000, 120000, 120000, 120000)

	_, err := c.Prune(context.Background(), env.sess.ID)
	require.NoError(t, err)

	parts, err := env.store.Repo().ListSessionParts(context.Background(), env.sess.ID)
	require.NoError(t, err)
	byID := make(map[string]*types.ToolPart)
	for _, p := range parts {
		if tp, ok := p.(*types.ToolPart); ok {
			byID[tp.ID] = tp
		}
	}

	// The newest two turns survive no matter what.
	for _, tp := range toolParts[len(toolParts)-2:] {
		assert.Nil(t, byID[tp.ID].State.Time.Compacted, "recent turn must stay intact")
	}
	// The oldest turn is marked.
	assert.NotNil(t, byID[toolParts[0].ID].State.Time.Compacted)
}

func TestCompactCreatesSummaryMessage(t *testing.T) {
	env := newEngineEnv(t, provider.TextScript("condensed history"))
	c := env.engine.Compactor()
	ctx := context.Background()

	// Seed one plain exchange to summarize.
	repo := env.store.Repo()
	done := time.Now().UnixMilli()
	user := &types.Message{ID: id.Ascending(id.Message), SessionID: env.sess.ID, Role: "user",
		Time: types.MessageTime{Created: done}}
	require.NoError(t, repo.PutMessage(ctx, user))
	require.NoError(t, repo.PutPart(ctx, &types.TextPart{
		ID: id.Ascending(id.Part), SessionID: env.sess.ID, MessageID: user.ID,
		Type: "text", Text: "build the thing"}))
	asst := &types.Message{ID: id.Ascending(id.Message), SessionID: env.sess.ID, Role: "assistant",
		Time: types.MessageTime{Created: done, Completed: &done}}
	require.NoError(t, repo.PutMessage(ctx, asst))

	summary, err := c.Compact(ctx, env.sess.ID, "build")
	require.NoError(t, err)
	assert.True(t, summary.Summary)
	require.NotNil(t, summary.Time.Completed)
	assert.Nil(t, summary.Error)
	assert.Greater(t, summary.Tokens.Output, 0)

	parts, err := repo.ListParts(ctx, summary.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "condensed history", parts[0].(*types.TextPart).Text)

	// The summary request carried the compaction instruction as the last
	// user message.
	calls := env.mock.Calls()
	require.Len(t, calls, 1)
	last := calls[0].Messages[len(calls[0].Messages)-1]
	assert.Contains(t, last.Content, "Summarize this conversation")

	// The compacting flag is cleared once the pass ends.
	sess, err := repo.GetSession(ctx, env.sess.ID)
	require.NoError(t, err)
	assert.Nil(t, sess.Time.Compacting)
}

func TestCompactRecordsProviderFailure(t *testing.T) {
	env := newEngineEnv(t, provider.Script{Err: plainError("stream failed")})
	c := env.engine.Compactor()

	summary, err := c.Compact(context.Background(), env.sess.ID, "build")
	require.Error(t, err)
	require.NotNil(t, summary)
	require.NotNil(t, summary.Error)
	require.NotNil(t, summary.Time.Completed)

	// Failed summaries are ignored by history reconstruction, so the
	// session stays usable.
	sess, getErr := env.store.Repo().GetSession(context.Background(), env.sess.ID)
	require.NoError(t, getErr)
	assert.Nil(t, sess.Time.Compacting)
}

type plainError string

func (e plainError) Error() string { return string(e) }
