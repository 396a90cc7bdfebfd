package session

import (
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-dev/agentd/pkg/types"
)

func textPart(msgID, text string) *types.TextPart {
	return &types.TextPart{ID: "prt_" + msgID + text[:1], MessageID: msgID, Type: "text", Text: text}
}

func TestBuildHistoryBasic(t *testing.T) {
	done := time.Now().UnixMilli()
	messages := []*types.Message{
		{ID: "msg_1", Role: "user"},
		{ID: "msg_2", Role: "assistant", Time: types.MessageTime{Completed: &done}},
	}
	parts := map[string][]types.Part{
		"msg_1": {textPart("msg_1", "hello")},
		"msg_2": {textPart("msg_2", "world")},
	}

	history := buildHistory(messages, parts, nil)
	require.Len(t, history, 2)
	assert.Equal(t, schema.User, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, schema.Assistant, history[1].Role)
	assert.Equal(t, "world", history[1].Content)
}

func TestBuildHistoryToolCalls(t *testing.T) {
	messages := []*types.Message{
		{ID: "msg_1", Role: "user"},
		{ID: "msg_2", Role: "assistant"},
	}
	parts := map[string][]types.Part{
		"msg_1": {textPart("msg_1", "read it")},
		"msg_2": {
			&types.ToolPart{
				ID: "prt_t1", MessageID: "msg_2", Type: "tool",
				CallID: "call_1", Tool: "read",
				State: types.ToolState{
					Status: types.ToolCompleted,
					Input:  map[string]any{"filePath": "x.txt"},
					Output: "abc",
				},
			},
			textPart("msg_2", "done"),
		},
	}

	history := buildHistory(messages, parts, nil)
	require.Len(t, history, 3)

	asst := history[1]
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "call_1", asst.ToolCalls[0].ID)
	assert.Equal(t, "read", asst.ToolCalls[0].Function.Name)
	assert.Contains(t, asst.ToolCalls[0].Function.Arguments, "x.txt")

	result := history[2]
	assert.Equal(t, schema.Tool, result.Role)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, "abc", result.Content)
}

func TestBuildHistoryElidesCompactedOutputs(t *testing.T) {
	now := time.Now().UnixMilli()
	messages := []*types.Message{
		{ID: "msg_1", Role: "user"},
		{ID: "msg_2", Role: "assistant"},
	}
	parts := map[string][]types.Part{
		"msg_1": {textPart("msg_1", "go")},
		"msg_2": {
			&types.ToolPart{
				ID: "prt_t1", MessageID: "msg_2", Type: "tool",
				CallID: "call_1", Tool: "bash",
				State: types.ToolState{
					Status: types.ToolCompleted,
					Output: "a very large output",
					Time:   types.ToolTime{Compacted: &now},
				},
			},
		},
	}

	history := buildHistory(messages, parts, nil)
	require.Len(t, history, 3)
	assert.Equal(t, elidedOutput, history[2].Content)
	assert.NotContains(t, history[2].Content, "large output")
}

func TestBuildHistoryStartsAtSummary(t *testing.T) {
	done := time.Now().UnixMilli()
	messages := []*types.Message{
		{ID: "msg_1", Role: "user"},
		{ID: "msg_2", Role: "assistant", Time: types.MessageTime{Completed: &done}},
		{ID: "msg_3", Role: "assistant", Summary: true, Time: types.MessageTime{Completed: &done}},
		{ID: "msg_4", Role: "user"},
	}
	parts := map[string][]types.Part{
		"msg_1": {textPart("msg_1", "old question")},
		"msg_2": {textPart("msg_2", "old answer")},
		"msg_3": {textPart("msg_3", "summary of earlier work")},
		"msg_4": {textPart("msg_4", "new question")},
	}

	history := buildHistory(messages, parts, nil)
	require.Len(t, history, 2)
	assert.Equal(t, "summary of earlier work", history[0].Content)
	assert.Equal(t, "new question", history[1].Content)
}

func TestBuildHistoryFailedSummaryIgnored(t *testing.T) {
	done := time.Now().UnixMilli()
	messages := []*types.Message{
		{ID: "msg_1", Role: "user"},
		{ID: "msg_2", Role: "assistant", Summary: true,
			Time:  types.MessageTime{Completed: &done},
			Error: types.NewError(types.ErrorUnknown, "boom")},
	}
	parts := map[string][]types.Part{
		"msg_1": {textPart("msg_1", "hi")},
	}

	history := buildHistory(messages, parts, nil)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)
}

func TestTitleFromPrompt(t *testing.T) {
	assert.Equal(t, "Fix the parser", titleFromPrompt("Fix the parser"))
	assert.Equal(t, "first line", titleFromPrompt("\n\nfirst line\nsecond line"))
	assert.Equal(t, "", titleFromPrompt("   \n  "))

	long := ""
	for i := 0; i < 30; i++ {
		long += "abcdefghij"
	}
	title := titleFromPrompt(long)
	assert.LessOrEqual(t, len([]rune(title)), titleMaxRunes)
	assert.Equal(t, "…", string([]rune(title)[titleMaxRunes-1]))
}

func TestIsDefaultTitle(t *testing.T) {
	assert.True(t, isDefaultTitle(""))
	assert.True(t, isDefaultTitle(defaultTitle))
	assert.False(t, isDefaultTitle("Fixing the parser"))
}
