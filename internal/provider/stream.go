package provider

import (
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/agentd-dev/agentd/pkg/types"
)

// einoStream converts Eino message chunks into the typed event stream.
// Chunk shape varies by backend: some emit deltas, some cumulative
// content; toDelta normalises both.
type einoStream struct {
	providerID string
	reader     *schema.StreamReader[*schema.Message]

	pending []StreamEvent

	text       string
	reasoning  string
	textOpen   bool
	reasonOpen bool

	// tool call accumulation, keyed by call ID; lastCallID routes
	// continuation fragments that arrive without an ID.
	toolArgs   map[string]string
	lastCallID string

	usage  types.TokenUsage
	reason string
	done   bool
}

func newEinoStream(providerID string, reader *schema.StreamReader[*schema.Message]) *einoStream {
	return &einoStream{
		providerID: providerID,
		reader:     reader,
		toolArgs:   make(map[string]string),
	}
}

// Recv returns the next event, io.EOF after the final FinishStep.
func (s *einoStream) Recv() (StreamEvent, error) {
	for {
		if len(s.pending) > 0 {
			e := s.pending[0]
			s.pending = s.pending[1:]
			return e, nil
		}
		if s.done {
			return nil, io.EOF
		}

		msg, err := s.reader.Recv()
		if err == io.EOF {
			s.finish()
			continue
		}
		if err != nil {
			return nil, ClassifyError(s.providerID, err)
		}
		s.ingest(msg)
	}
}

func (s *einoStream) Close() {
	s.reader.Close()
}

func (s *einoStream) emit(e StreamEvent) {
	s.pending = append(s.pending, e)
}

func (s *einoStream) ingest(msg *schema.Message) {
	if msg.Content != "" {
		if delta := toDelta(&s.text, msg.Content); delta != "" {
			s.textOpen = true
			s.emit(TextDelta{Text: delta})
		}
	}

	if msg.ReasoningContent != "" {
		if delta := toDelta(&s.reasoning, msg.ReasoningContent); delta != "" {
			s.reasonOpen = true
			s.emit(ReasoningDelta{Text: delta})
		}
	}

	for _, tc := range msg.ToolCalls {
		callID := tc.ID
		if callID == "" {
			callID = s.lastCallID
		}
		if callID == "" {
			continue // fragment before any call started
		}

		if _, known := s.toolArgs[callID]; !known {
			s.toolArgs[callID] = ""
			s.lastCallID = callID
			s.emit(ToolCallStart{CallID: callID, Name: tc.Function.Name})
		} else {
			s.lastCallID = callID
		}

		if tc.Function.Arguments != "" {
			acc := s.toolArgs[callID]
			if delta := toDelta(&acc, tc.Function.Arguments); delta != "" {
				s.toolArgs[callID] = acc
				s.emit(ToolCallDelta{CallID: callID, Delta: delta})
			}
		}
	}

	if msg.ResponseMeta != nil {
		if msg.ResponseMeta.Usage != nil {
			s.usage.Input = msg.ResponseMeta.Usage.PromptTokens
			s.usage.Output = msg.ResponseMeta.Usage.CompletionTokens
		}
		if msg.ResponseMeta.FinishReason != "" {
			s.reason = msg.ResponseMeta.FinishReason
		}
	}
}

// finish closes any open blocks and emits the terminal FinishStep.
func (s *einoStream) finish() {
	if s.textOpen {
		s.emit(TextEnd{})
	}
	if s.reasonOpen {
		s.emit(ReasoningEnd{})
	}

	reason := s.reason
	if reason == "" {
		if len(s.toolArgs) > 0 {
			reason = "tool_use"
		} else {
			reason = "stop"
		}
	}
	s.emit(FinishStep{Reason: reason, Usage: s.usage})
	s.done = true
}

// toDelta updates the accumulator with a chunk that may be either a delta
// or the full content so far, and returns the new text.
func toDelta(acc *string, chunk string) string {
	if strings.HasPrefix(chunk, *acc) && len(chunk) > len(*acc) {
		delta := chunk[len(*acc):]
		*acc = chunk
		return delta
	}
	if chunk == *acc {
		return ""
	}
	*acc += chunk
	return chunk
}
