package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalPartTool(t *testing.T) {
	data := []byte(`{
		"id": "prt_01",
		"sessionID": "ses_01",
		"messageID": "msg_01",
		"type": "tool",
		"callID": "call_1",
		"tool": "read",
		"state": {"status": "completed", "output": "abc", "title": "X", "time": {"start": 1, "end": 2}}
	}`)

	part, err := UnmarshalPart(data)
	require.NoError(t, err)

	tool, ok := part.(*ToolPart)
	require.True(t, ok)
	assert.Equal(t, "read", tool.Tool)
	assert.Equal(t, ToolCompleted, tool.State.Status)
	assert.Equal(t, "abc", tool.State.Output)
	assert.Equal(t, "ses_01", part.PartSessionID())
	assert.Equal(t, "msg_01", part.PartMessageID())
}

func TestUnmarshalPartUnknownType(t *testing.T) {
	_, err := UnmarshalPart([]byte(`{"id": "prt_02", "type": "hologram"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hologram")
}

func TestMessageSummaryRoundTrip(t *testing.T) {
	msg := Message{
		ID:        "msg_01",
		SessionID: "ses_01",
		Role:      "assistant",
		Summary:   true,
		Tokens:    &TokenUsage{Input: 10, Output: 5},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Summary)
	assert.Equal(t, 10, decoded.Tokens.Input)
}

func TestTokenUsageAdd(t *testing.T) {
	var usage TokenUsage
	usage.Add(TokenUsage{Input: 100, Output: 20, Cache: CacheUsage{Read: 50}})
	usage.Add(TokenUsage{Input: 30, Reasoning: 7, Cache: CacheUsage{Write: 4}})

	assert.Equal(t, 130, usage.Input)
	assert.Equal(t, 20, usage.Output)
	assert.Equal(t, 7, usage.Reasoning)
	assert.Equal(t, 50, usage.Cache.Read)
	assert.Equal(t, 4, usage.Cache.Write)
	assert.Equal(t, 200, usage.Total())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorAborted, KindOf(context.Canceled))
	assert.Equal(t, ErrorAborted, KindOf(fmt.Errorf("stream: %w", context.Canceled)))
	assert.Equal(t, ErrorBusy, KindOf(NewError(ErrorBusy, "session busy")))
	assert.Equal(t, ErrorUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestModelCost(t *testing.T) {
	m := Model{CostPerMIn: 3, CostPerMOut: 15}
	cost := m.Cost(TokenUsage{Input: 1_000_000, Output: 100_000})
	assert.InDelta(t, 3+1.5, cost, 1e-9)
}
