package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/hook"
	"github.com/agentd-dev/agentd/internal/permission"
	"github.com/agentd-dev/agentd/internal/provider"
	"github.com/agentd-dev/agentd/internal/store"
	"github.com/agentd-dev/agentd/internal/tool"
	"github.com/agentd-dev/agentd/pkg/types"
)

type engineEnv struct {
	engine *Engine
	store  *store.Store
	bus    *event.Bus
	mock   *provider.MockProvider
	gate   *permission.Gate
	tools  *tool.Registry
	cfg    *types.Config
	sess   *types.Session
}

func newEngineEnv(t *testing.T, scripts ...provider.Script) *engineEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := event.New()
	t.Cleanup(func() { bus.Close() })

	mock := provider.NewMock("mock", scripts...)
	cfg := &types.Config{Model: "mock/mock-model", SmallModel: "mock/mock-model"}
	providers := provider.NewRegistry(cfg)
	providers.Register(mock)

	gate := permission.NewGate(bus, st)
	registry := tool.NewRegistry()

	eng := NewEngine(Deps{
		Store:     st,
		Bus:       bus,
		Providers: providers,
		Tools:     registry,
		Gate:      gate,
		Hooks:     hook.NewDispatcher(),
		Truncator: tool.NewTruncator(filepath.Join(t.TempDir(), "tool-output")),
		Config:    cfg,
	})

	now := time.Now().UnixMilli()
	project := &types.Project{
		ID:       "global",
		Worktree: t.TempDir(),
		Time:     types.ProjectTime{Created: now, Updated: now},
	}
	require.NoError(t, st.Repo().PutProject(ctx, project))

	sess, err := NewService(st, bus).Create(ctx, project, CreateInput{})
	require.NoError(t, err)

	return &engineEnv{engine: eng, store: st, bus: bus, mock: mock, gate: gate, tools: registry, cfg: cfg, sess: sess}
}

func (env *engineEnv) prompt(t *testing.T, text string) *types.Message {
	t.Helper()
	msg, err := env.engine.Prompt(context.Background(), PromptInput{
		SessionID: env.sess.ID,
		Parts:     []PromptPart{{Type: "text", Text: text}},
	})
	require.NoError(t, err)
	return msg
}

// fnTool adapts a function to the tool contract for engine tests.
type fnTool struct {
	id string
	fn func(ctx context.Context, input json.RawMessage, tctx *tool.Context) (*tool.Result, error)
}

func (f *fnTool) ID() string                  { return f.id }
func (f *fnTool) Description() string         { return "test tool " + f.id }
func (f *fnTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (f *fnTool) Execute(ctx context.Context, input json.RawMessage, tctx *tool.Context) (*tool.Result, error) {
	return f.fn(ctx, input, tctx)
}

func countEvents(sub *event.Subscription, kind event.EventType) int {
	n := 0
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return n
			}
			if e.Type == kind {
				n++
			}
		case <-time.After(100 * time.Millisecond):
			return n
		}
	}
}

func TestPromptHello(t *testing.T) {
	env := newEngineEnv(t, provider.TextScript("hello"))
	sub := env.bus.Subscribe(64, event.SessionIdle)
	defer sub.Close()

	asst := env.prompt(t, "hi")

	require.NotNil(t, asst.Time.Completed)
	assert.Nil(t, asst.Error)
	assert.Greater(t, asst.Tokens.Output, 0)
	assert.GreaterOrEqual(t, asst.Cost, 0.0)

	repo := env.store.Repo()
	messages, err := repo.ListMessages(context.Background(), env.sess.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)

	userParts, err := repo.ListParts(context.Background(), messages[0].ID)
	require.NoError(t, err)
	require.Len(t, userParts, 1)
	assert.Equal(t, "hi", userParts[0].(*types.TextPart).Text)

	asstParts, err := repo.ListParts(context.Background(), messages[1].ID)
	require.NoError(t, err)
	require.Len(t, asstParts, 1)
	assert.Equal(t, "hello", asstParts[0].(*types.TextPart).Text)

	assert.Equal(t, 1, countEvents(sub, event.SessionIdle))
}

func TestPromptSetsTitleFromFirstMessage(t *testing.T) {
	env := newEngineEnv(t, provider.TextScript("ok"), provider.TextScript("ok again"))

	env.prompt(t, "Fix the flaky watcher test")

	sess, err := env.store.Repo().GetSession(context.Background(), env.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix the flaky watcher test", sess.Title)

	// A second prompt leaves the title alone.
	env.prompt(t, "now something else entirely")
	sess, err = env.store.Repo().GetSession(context.Background(), env.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix the flaky watcher test", sess.Title)
}

func TestPromptToolCall(t *testing.T) {
	env := newEngineEnv(t,
		provider.ToolScript("call_1", "probe", `{"filePath":"./X"}`),
		provider.TextScript("the file says abc"),
	)
	env.tools.Register(&fnTool{id: "probe", fn: func(ctx context.Context, input json.RawMessage, tctx *tool.Context) (*tool.Result, error) {
		var in struct {
			FilePath string `json:"filePath"`
		}
		require.NoError(t, json.Unmarshal(input, &in))
		assert.Equal(t, "./X", in.FilePath)
		return &tool.Result{Title: "X", Output: "abc"}, nil
	}})

	asst := env.prompt(t, "read X")

	require.NotNil(t, asst.Time.Completed)
	assert.Nil(t, asst.Error)

	parts, err := env.store.Repo().ListParts(context.Background(), asst.ID)
	require.NoError(t, err)

	var toolPart *types.ToolPart
	var trailing *types.TextPart
	for _, p := range parts {
		switch pt := p.(type) {
		case *types.ToolPart:
			toolPart = pt
		case *types.TextPart:
			trailing = pt
		}
	}
	require.NotNil(t, toolPart)
	assert.Equal(t, types.ToolCompleted, toolPart.State.Status)
	assert.Equal(t, "abc", toolPart.State.Output)
	assert.Equal(t, "call_1", toolPart.CallID)
	require.NotNil(t, trailing)
	assert.Equal(t, "the file says abc", trailing.Text)

	// Two model calls: the tool step and the closing text step.
	assert.Len(t, env.mock.Calls(), 2)
}

func TestPromptPermissionReject(t *testing.T) {
	env := newEngineEnv(t,
		provider.ToolScript("call_1", "guarded", `{}`),
		provider.TextScript("the call was blocked"),
	)
	env.tools.Register(&fnTool{id: "guarded", fn: func(ctx context.Context, input json.RawMessage, tctx *tool.Context) (*tool.Result, error) {
		if err := tctx.RequestPermission(ctx, "guarded:thing", "Do the thing", nil, nil); err != nil {
			return nil, err
		}
		return &tool.Result{Output: "should not happen"}, nil
	}})

	sub := env.bus.Subscribe(64, event.PermissionUpdated)
	defer sub.Close()

	done := make(chan *types.Message, 1)
	go func() {
		msg, err := env.engine.Prompt(context.Background(), PromptInput{
			SessionID: env.sess.ID,
			Parts:     []PromptPart{{Type: "text", Text: "do it"}},
		})
		assert.NoError(t, err)
		done <- msg
	}()

	e := <-sub.Events()
	data := e.Properties.(event.PermissionUpdatedData)
	require.NotEmpty(t, data.ID)
	assert.Equal(t, env.sess.ID, data.SessionID)
	assert.Equal(t, "guarded", data.Tool)

	require.NoError(t, env.gate.Reply(data.ID, permission.ResponseReject))

	asst := <-done
	parts, err := env.store.Repo().ListParts(context.Background(), asst.ID)
	require.NoError(t, err)

	var toolPart *types.ToolPart
	for _, p := range parts {
		if tp, ok := p.(*types.ToolPart); ok {
			toolPart = tp
		}
	}
	require.NotNil(t, toolPart)
	assert.Equal(t, types.ToolError, toolPart.State.Status)
	assert.Contains(t, toolPart.State.Error, "PermissionDenied")

	// The turn continued and the model explained the block.
	assert.Nil(t, asst.Error)
	require.NotNil(t, asst.Time.Completed)
}

func TestPromptCancellation(t *testing.T) {
	env := newEngineEnv(t, provider.ToolScript("call_1", "slow", `{}`))

	started := make(chan struct{})
	env.tools.Register(&fnTool{id: "slow", fn: func(ctx context.Context, input json.RawMessage, tctx *tool.Context) (*tool.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	sub := env.bus.Subscribe(64, event.SessionIdle)
	defer sub.Close()

	done := make(chan *types.Message, 1)
	go func() {
		msg, err := env.engine.Prompt(context.Background(), PromptInput{
			SessionID: env.sess.ID,
			Parts:     []PromptPart{{Type: "text", Text: "take your time"}},
		})
		assert.NoError(t, err)
		done <- msg
	}()

	<-started
	require.True(t, env.engine.Locks().Cancel(env.sess.ID))

	asst := <-done
	require.NotNil(t, asst.Error)
	assert.Equal(t, types.ErrorAborted, asst.Error.Name)
	require.NotNil(t, asst.Time.Completed)

	parts, err := env.store.Repo().ListParts(context.Background(), asst.ID)
	require.NoError(t, err)
	var toolPart *types.ToolPart
	for _, p := range parts {
		if tp, ok := p.(*types.ToolPart); ok {
			toolPart = tp
		}
	}
	require.NotNil(t, toolPart)
	assert.Equal(t, types.ToolError, toolPart.State.Status)

	assert.Equal(t, 1, countEvents(sub, event.SessionIdle))
}

func TestPromptBusy(t *testing.T) {
	env := newEngineEnv(t, provider.ToolScript("call_1", "slow", `{}`))

	started := make(chan struct{})
	release := make(chan struct{})
	env.tools.Register(&fnTool{id: "slow", fn: func(ctx context.Context, input json.RawMessage, tctx *tool.Context) (*tool.Result, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &tool.Result{Output: "ok"}, nil
	}})
	env.mock.Enqueue(provider.TextScript("done"))

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = env.engine.Prompt(context.Background(), PromptInput{
			SessionID: env.sess.ID,
			Parts:     []PromptPart{{Type: "text", Text: "one"}},
		})
	}()
	<-started

	_, err := env.engine.Prompt(context.Background(), PromptInput{
		SessionID: env.sess.ID,
		Parts:     []PromptPart{{Type: "text", Text: "two"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrorBusy, types.KindOf(err))

	close(release)
	<-firstDone
}

func TestPromptAuthErrorNotRetried(t *testing.T) {
	env := newEngineEnv(t, provider.Script{Err: errors.New("401 unauthorized")})
	sub := env.bus.Subscribe(64, event.SessionError, event.SessionIdle)
	defer sub.Close()

	asst := env.prompt(t, "hi")

	require.NotNil(t, asst.Error)
	assert.Equal(t, types.ErrorAuth, asst.Error.Name)
	require.NotNil(t, asst.Time.Completed)

	// One stream attempt: auth failures are permanent.
	assert.Len(t, env.mock.Calls(), 1)

	sawError := false
	sawIdle := false
	for {
		select {
		case e := <-sub.Events():
			switch e.Type {
			case event.SessionError:
				sawError = true
			case event.SessionIdle:
				sawIdle = true
			}
		case <-time.After(100 * time.Millisecond):
			assert.True(t, sawError, "session.error published")
			assert.True(t, sawIdle, "session.idle published")
			return
		}
	}
}

func TestPromptOverflowCompacts(t *testing.T) {
	// Context 1000, output cap 200: usage over 800 triggers compaction.
	small := types.Model{
		ID: "mock-model", Name: "Mock", ContextLimit: 1000, OutputLimit: 200,
		SupportsTools: true,
	}
	env := newEngineEnv(t)
	env.mock.WithModels(small)
	env.mock.Enqueue(
		provider.Script{Events: []provider.StreamEvent{
			provider.TextDelta{Text: "big answer"},
			provider.TextEnd{},
			provider.FinishStep{Reason: "stop", Usage: types.TokenUsage{Input: 900, Output: 50}},
		}},
		provider.TextScript("summary of earlier work"), // consumed by the compactor
	)

	sub := env.bus.Subscribe(64, event.SessionCompacted)
	defer sub.Close()

	asst := env.prompt(t, "huge request")
	require.NotNil(t, asst.Time.Completed)

	e := <-sub.Events()
	data := e.Properties.(event.SessionCompactedData)
	assert.Equal(t, env.sess.ID, data.SessionID)
	require.NotEmpty(t, data.MessageID)

	summary, err := env.store.Repo().GetMessage(context.Background(), data.MessageID)
	require.NoError(t, err)
	assert.True(t, summary.Summary)
	require.NotNil(t, summary.Time.Completed)
	assert.Nil(t, summary.Error)

	parts, err := env.store.Repo().ListParts(context.Background(), summary.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "summary of earlier work", parts[0].(*types.TextPart).Text)
}

func TestPromptValidateHookBlocks(t *testing.T) {
	env := newEngineEnv(t,
		provider.ToolScript("call_1", "probe", `{}`),
		provider.TextScript("blocked, moving on"),
	)
	env.tools.Register(&fnTool{id: "probe", fn: func(ctx context.Context, input json.RawMessage, tctx *tool.Context) (*tool.Result, error) {
		t.Fatal("blocked tool must not execute")
		return nil, nil
	}})
	env.engine.hooks.Register(hook.Handlers{
		ValidateTool: func(ctx context.Context, in hook.ValidateInput, out *hook.ValidateOutput) error {
			if in.Tool == "probe" {
				out.Blocked = true
				out.Reason = "probe is disabled here"
			}
			return nil
		},
	})

	asst := env.prompt(t, "try it")
	assert.Nil(t, asst.Error)

	parts, err := env.store.Repo().ListParts(context.Background(), asst.ID)
	require.NoError(t, err)
	var toolPart *types.ToolPart
	for _, p := range parts {
		if tp, ok := p.(*types.ToolPart); ok {
			toolPart = tp
		}
	}
	require.NotNil(t, toolPart)
	assert.Equal(t, types.ToolError, toolPart.State.Status)
	assert.Contains(t, toolPart.State.Error, "probe is disabled here")
}

func TestPromptUnknownToolFailsLocally(t *testing.T) {
	env := newEngineEnv(t,
		provider.ToolScript("call_1", "no-such-tool", `{}`),
		provider.TextScript("recovered"),
	)

	asst := env.prompt(t, "call something odd")
	assert.Nil(t, asst.Error)

	parts, err := env.store.Repo().ListParts(context.Background(), asst.ID)
	require.NoError(t, err)
	var toolPart *types.ToolPart
	for _, p := range parts {
		if tp, ok := p.(*types.ToolPart); ok {
			toolPart = tp
		}
	}
	require.NotNil(t, toolPart)
	assert.Equal(t, types.ToolError, toolPart.State.Status)
	assert.Contains(t, toolPart.State.Error, "not found")
}

func TestPromptOverflowRefusedWhenAutocompactOff(t *testing.T) {
	small := types.Model{
		ID: "mock-model", Name: "Mock", ContextLimit: 1000, OutputLimit: 200,
		SupportsTools: true,
	}
	env := newEngineEnv(t) // no scripts: the provider must never be reached
	env.mock.WithModels(small)

	off := false
	env.cfg.Autocompact = &off

	// A prior turn left the window full.
	ctx := context.Background()
	now := time.Now().UnixMilli()
	prior := &types.Message{
		ID:        "msg_full",
		SessionID: env.sess.ID,
		Role:      "assistant",
		Tokens:    &types.TokenUsage{Input: 900, Output: 50},
		Time:      types.MessageTime{Created: now, Completed: &now},
	}
	require.NoError(t, env.store.Repo().PutMessage(ctx, prior))

	_, err := env.engine.Prompt(ctx, PromptInput{
		SessionID: env.sess.ID,
		Parts:     []PromptPart{{Type: "text", Text: "one more thing"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrorOverflow, types.KindOf(err))

	// The turn never started: nothing was appended and no stream opened.
	messages, err := env.store.Repo().ListMessages(ctx, env.sess.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Empty(t, env.mock.Calls())
}

func TestPromptAfterRevertDropsRevertedMessages(t *testing.T) {
	env := newEngineEnv(t,
		provider.TextScript("first answer"),
		provider.TextScript("second answer"),
		provider.TextScript("third answer"),
	)
	ctx := context.Background()

	env.prompt(t, "first question")
	env.prompt(t, "second question")

	messages, err := env.store.Repo().ListMessages(ctx, env.sess.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)

	// Anchor before the second exchange.
	svc := NewService(env.store, env.bus)
	_, err = svc.Revert(ctx, env.sess.ID, messages[2].ID, nil)
	require.NoError(t, err)

	// Listings hide the reverted tail right away.
	visible, err := svc.Messages(ctx, env.sess.ID)
	require.NoError(t, err)
	require.Len(t, visible, 2)

	sub := env.bus.Subscribe(64, event.MessageRemoved)
	defer sub.Close()

	env.prompt(t, "third question")

	// The next prompt committed the revert: rows deleted, anchor cleared.
	messages, err = env.store.Repo().ListMessages(ctx, env.sess.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	sess, err := env.store.Repo().GetSession(ctx, env.sess.ID)
	require.NoError(t, err)
	assert.Nil(t, sess.Revert)

	// The model never saw the reverted exchange.
	calls := env.mock.Calls()
	require.Len(t, calls, 3)
	for _, m := range calls[2].Messages {
		assert.NotContains(t, m.Content, "second question")
		assert.NotContains(t, m.Content, "second answer")
	}

	assert.Equal(t, 2, countEvents(sub, event.MessageRemoved))
}

func TestPromptBatchCreatesChildParts(t *testing.T) {
	env := newEngineEnv(t,
		provider.ToolScript("call_1", "batch",
			`{"tool_calls":[{"tool":"guarded","parameters":{"n":1}},{"tool":"plain","parameters":{"n":2}}]}`),
		provider.TextScript("batched"),
	)
	env.tools.Register(tool.NewBatchTool(env.tools))
	env.tools.Register(&fnTool{id: "guarded", fn: func(ctx context.Context, input json.RawMessage, tctx *tool.Context) (*tool.Result, error) {
		if err := tctx.RequestPermission(ctx, "guarded:n", "Run guarded", nil, nil); err != nil {
			return nil, err
		}
		return &tool.Result{Output: "guarded ran"}, nil
	}})
	env.tools.Register(&fnTool{id: "plain", fn: func(ctx context.Context, input json.RawMessage, tctx *tool.Context) (*tool.Result, error) {
		return &tool.Result{Output: "plain ran"}, nil
	}})

	sub := env.bus.Subscribe(64, event.PermissionUpdated)
	defer sub.Close()

	done := make(chan *types.Message, 1)
	go func() {
		msg, err := env.engine.Prompt(context.Background(), PromptInput{
			SessionID: env.sess.ID,
			Parts:     []PromptPart{{Type: "text", Text: "run both"}},
		})
		assert.NoError(t, err)
		done <- msg
	}()

	// The ask is attributed to the sub-call, not the batch.
	e := <-sub.Events()
	data := e.Properties.(event.PermissionUpdatedData)
	assert.Equal(t, "guarded", data.Tool)
	assert.Equal(t, "call_1-batch-0", data.CallID)
	require.NoError(t, env.gate.Reply(data.ID, permission.ResponseOnce))

	asst := <-done
	assert.Nil(t, asst.Error)

	parts, err := env.store.Repo().ListParts(context.Background(), asst.ID)
	require.NoError(t, err)
	byCall := map[string]*types.ToolPart{}
	for _, p := range parts {
		if tp, ok := p.(*types.ToolPart); ok {
			byCall[tp.CallID] = tp
		}
	}

	parent := byCall["call_1"]
	require.NotNil(t, parent)
	assert.Empty(t, parent.Parent)
	assert.Equal(t, types.ToolCompleted, parent.State.Status)
	assert.Contains(t, parent.State.Output, "All 2 tools")

	child := byCall["call_1-batch-0"]
	require.NotNil(t, child)
	assert.Equal(t, "call_1", child.Parent)
	assert.Equal(t, types.ToolCompleted, child.State.Status)
	assert.Equal(t, "guarded ran", child.State.Output)

	child = byCall["call_1-batch-1"]
	require.NotNil(t, child)
	assert.Equal(t, "call_1", child.Parent)
	assert.Equal(t, "plain ran", child.State.Output)

	// Replay keeps only the parent call; the children fold into its output.
	calls := env.mock.Calls()
	require.Len(t, calls, 2)
	for _, m := range calls[1].Messages {
		if len(m.ToolCalls) > 0 {
			require.Len(t, m.ToolCalls, 1)
			assert.Equal(t, "call_1", m.ToolCalls[0].ID)
		}
	}
}

func TestPromptToolTailTruncation(t *testing.T) {
	env := newEngineEnv(t,
		provider.ToolScript("call_1", "chatty", `{}`),
		provider.TextScript("done"),
	)
	env.tools.Register(&fnTool{id: "chatty", fn: func(ctx context.Context, input json.RawMessage, tctx *tool.Context) (*tool.Result, error) {
		var sb strings.Builder
		for i := 1; i <= 2100; i++ {
			fmt.Fprintf(&sb, "line-%04d\n", i)
		}
		return &tool.Result{Output: sb.String(), Direction: tool.Tail}, nil
	}})

	asst := env.prompt(t, "be verbose")
	assert.Nil(t, asst.Error)

	parts, err := env.store.Repo().ListParts(context.Background(), asst.ID)
	require.NoError(t, err)
	var toolPart *types.ToolPart
	for _, p := range parts {
		if tp, ok := p.(*types.ToolPart); ok {
			toolPart = tp
		}
	}
	require.NotNil(t, toolPart)
	assert.Equal(t, types.ToolCompleted, toolPart.State.Status)

	// Tail truncation keeps the end of the output and drops the start.
	assert.Contains(t, toolPart.State.Output, "line-2100")
	assert.NotContains(t, toolPart.State.Output, "line-0100")
	assert.Equal(t, true, toolPart.State.Metadata["truncated"])
}

func TestPromptSessionNotFound(t *testing.T) {
	env := newEngineEnv(t)
	_, err := env.engine.Prompt(context.Background(), PromptInput{
		SessionID: "ses_missing",
		Parts:     []PromptPart{{Type: "text", Text: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrorNotFound, types.KindOf(err))
}
