package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-dev/agentd/pkg/types"
)

func collect(t *testing.T, s Stream) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	for {
		e, err := s.Recv()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, e)
	}
}

func chunkStream(chunks ...*schema.Message) Stream {
	return newEinoStream("test", schema.StreamReaderFromArray(chunks))
}

func TestStreamTextDeltas(t *testing.T) {
	events := collect(t, chunkStream(
		&schema.Message{Content: "Hello"},
		&schema.Message{Content: ", world"},
		&schema.Message{ResponseMeta: &schema.ResponseMeta{
			FinishReason: "stop",
			Usage:        &schema.TokenUsage{PromptTokens: 12, CompletionTokens: 4},
		}},
	))

	require.Len(t, events, 4)
	assert.Equal(t, TextDelta{Text: "Hello"}, events[0])
	assert.Equal(t, TextDelta{Text: ", world"}, events[1])
	assert.Equal(t, TextEnd{}, events[2])
	finish := events[3].(FinishStep)
	assert.Equal(t, "stop", finish.Reason)
	assert.Equal(t, 12, finish.Usage.Input)
	assert.Equal(t, 4, finish.Usage.Output)
}

func TestStreamCumulativeChunks(t *testing.T) {
	// Some backends resend the full content so far instead of deltas.
	events := collect(t, chunkStream(
		&schema.Message{Content: "Hel"},
		&schema.Message{Content: "Hello"},
		&schema.Message{Content: "Hello"}, // no growth, no event
	))

	require.Len(t, events, 4)
	assert.Equal(t, TextDelta{Text: "Hel"}, events[0])
	assert.Equal(t, TextDelta{Text: "lo"}, events[1])
	assert.Equal(t, TextEnd{}, events[2])
	assert.Equal(t, "stop", events[3].(FinishStep).Reason)
}

func TestStreamReasoning(t *testing.T) {
	events := collect(t, chunkStream(
		&schema.Message{ReasoningContent: "thinking"},
		&schema.Message{Content: "answer"},
	))

	require.Len(t, events, 5)
	assert.Equal(t, ReasoningDelta{Text: "thinking"}, events[0])
	assert.Equal(t, TextDelta{Text: "answer"}, events[1])
	assert.Equal(t, TextEnd{}, events[2])
	assert.Equal(t, ReasoningEnd{}, events[3])
}

func TestStreamToolCalls(t *testing.T) {
	events := collect(t, chunkStream(
		&schema.Message{ToolCalls: []schema.ToolCall{
			{ID: "call_1", Function: schema.FunctionCall{Name: "read", Arguments: `{"file`}},
		}},
		// continuation fragment without an ID routes to the last call
		&schema.Message{ToolCalls: []schema.ToolCall{
			{Function: schema.FunctionCall{Arguments: `Path":"a.txt"}`}},
		}},
	))

	require.Len(t, events, 4)
	assert.Equal(t, ToolCallStart{CallID: "call_1", Name: "read"}, events[0])
	assert.Equal(t, ToolCallDelta{CallID: "call_1", Delta: `{"file`}, events[1])
	assert.Equal(t, ToolCallDelta{CallID: "call_1", Delta: `Path":"a.txt"}`}, events[2])

	// no finish reason reported, tool calls seen: default to tool_use
	assert.Equal(t, "tool_use", events[3].(FinishStep).Reason)
}

func TestStreamDefaultFinishReason(t *testing.T) {
	events := collect(t, chunkStream(&schema.Message{Content: "hi"}))
	finish := events[len(events)-1].(FinishStep)
	assert.Equal(t, "stop", finish.Reason)
}

func TestClassifyError(t *testing.T) {
	err := ClassifyError("anthropic", errors.New("401 Unauthorized"))
	assert.Equal(t, types.ErrorAuth, types.KindOf(err))

	err = ClassifyError("openai", errors.New("invalid api key provided"))
	assert.Equal(t, types.ErrorAuth, types.KindOf(err))

	plain := errors.New("connection refused")
	assert.Equal(t, plain, ClassifyError("anthropic", plain))

	assert.NoError(t, ClassifyError("anthropic", nil))
}

func TestParseModelString(t *testing.T) {
	pid, mid := ParseModelString("anthropic/claude-sonnet-4-20250514")
	assert.Equal(t, "anthropic", pid)
	assert.Equal(t, "claude-sonnet-4-20250514", mid)

	pid, mid = ParseModelString("gpt-4o")
	assert.Empty(t, pid)
	assert.Equal(t, "gpt-4o", mid)
}

func TestConvertTools(t *testing.T) {
	params := json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {"type": "string", "description": "file to read"},
			"limit": {"type": "integer", "description": "max lines"}
		},
		"required": ["filePath"]
	}`)

	infos := ConvertTools([]ToolInfo{{Name: "read", Description: "Read a file", Parameters: params}})
	require.Len(t, infos, 1)
	assert.Equal(t, "read", infos[0].Name)
	assert.Equal(t, "Read a file", infos[0].Desc)
	assert.NotNil(t, infos[0].ParamsOneOf)
}

func TestRegistryResolve(t *testing.T) {
	config := &types.Config{Model: "mock/mock-model"}
	registry := NewRegistry(config)
	registry.Register(NewMock("mock"))

	p, m, err := registry.Resolve("", "")
	require.NoError(t, err)
	assert.Equal(t, "mock", p.ID())
	assert.Equal(t, "mock-model", m.ID)

	p, m, err = registry.Resolve("mock", "mock-model")
	require.NoError(t, err)
	assert.Equal(t, "mock-model", m.ID)

	_, _, err = registry.Resolve("mock", "nope")
	assert.Equal(t, types.ErrorNotFound, types.KindOf(err))

	_, err = registry.Get("missing")
	assert.Equal(t, types.ErrorNotFound, types.KindOf(err))
}

func TestRegistryResolveSmall(t *testing.T) {
	small := types.Model{ID: "tiny", Name: "Tiny", ContextLimit: 100000, OutputLimit: 4096, SupportsTools: true}
	big := types.Model{ID: "big", Name: "Big", ContextLimit: 200000, OutputLimit: 8192, SupportsTools: true}

	config := &types.Config{Model: "mock/big", SmallModel: "mock/tiny"}
	registry := NewRegistry(config)
	registry.Register(NewMock("mock").WithModels(big, small))

	_, m, err := registry.ResolveSmall()
	require.NoError(t, err)
	assert.Equal(t, "tiny", m.ID)

	// without a small model configured it falls back to the default
	registry = NewRegistry(&types.Config{Model: "mock/big"})
	registry.Register(NewMock("mock").WithModels(big, small))
	_, m, err = registry.ResolveSmall()
	require.NoError(t, err)
	assert.Equal(t, "big", m.ID)
}

func TestMockProviderScripts(t *testing.T) {
	p := NewMock("mock", TextScript("hello"), ToolScript("call_1", "bash", `{"command":"ls"}`))

	s, err := p.Stream(context.Background(), Request{ModelID: "mock-model"})
	require.NoError(t, err)
	events := collect(t, s)
	require.Len(t, events, 3)
	assert.Equal(t, TextDelta{Text: "hello"}, events[0])

	s, err = p.Stream(context.Background(), Request{ModelID: "mock-model"})
	require.NoError(t, err)
	events = collect(t, s)
	assert.Equal(t, ToolCallStart{CallID: "call_1", Name: "bash"}, events[0])
	assert.Equal(t, "tool_use", events[len(events)-1].(FinishStep).Reason)

	// out of scripts
	_, err = p.Stream(context.Background(), Request{ModelID: "mock-model"})
	assert.Error(t, err)

	assert.Len(t, p.Calls(), 3)
}

func TestMockStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewMock("mock", TextScript("hello"))

	s, err := p.Stream(ctx, Request{ModelID: "mock-model"})
	require.NoError(t, err)

	cancel()
	_, err = s.Recv()
	assert.ErrorIs(t, err, context.Canceled)
}
