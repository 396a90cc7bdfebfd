package provider

import (
	"context"
	"io"
	"sync"

	"github.com/agentd-dev/agentd/pkg/types"
)

// MockProvider replays scripted event streams, one script per model call.
// It backs engine tests and offline runs.
type MockProvider struct {
	id     string
	models []types.Model

	mu      sync.Mutex
	scripts []Script
	calls   []Request
}

// Script is the canned outcome of a single model call: either Err, or the
// events replayed in order (a FinishStep is appended if missing).
type Script struct {
	Events []StreamEvent
	Err    error
}

// NewMock creates a mock provider with one default model.
func NewMock(id string, scripts ...Script) *MockProvider {
	return &MockProvider{
		id: id,
		models: []types.Model{{
			ID:            "mock-model",
			Name:          "Mock Model",
			ContextLimit:  200000,
			OutputLimit:   8192,
			SupportsTools: true,
		}},
		scripts: scripts,
	}
}

// WithModels overrides the mock's model catalog.
func (p *MockProvider) WithModels(models ...types.Model) *MockProvider {
	p.models = models
	return p
}

// Enqueue appends scripts for subsequent calls.
func (p *MockProvider) Enqueue(scripts ...Script) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, scripts...)
}

// Calls returns the requests received so far.
func (p *MockProvider) Calls() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.calls...)
}

func (p *MockProvider) ID() string   { return p.id }
func (p *MockProvider) Name() string { return "Mock (" + p.id + ")" }

func (p *MockProvider) Models() []types.Model { return p.models }

func (p *MockProvider) Model(modelID string) (types.Model, bool) {
	for _, m := range p.models {
		if m.ID == modelID {
			return m, true
		}
	}
	return types.Model{}, false
}

// Stream pops the next script. Running out of scripts is an error so tests
// fail loudly instead of hanging.
func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, req)
	if len(p.scripts) == 0 {
		return nil, types.NewError(types.ErrorUnknown, "mock provider: no scripts left")
	}
	script := p.scripts[0]
	p.scripts = p.scripts[1:]

	if script.Err != nil {
		return nil, script.Err
	}

	events := script.Events
	if len(events) == 0 || !isFinish(events[len(events)-1]) {
		events = append(append([]StreamEvent(nil), events...), FinishStep{Reason: "stop"})
	}
	return &mockStream{ctx: ctx, events: events}, nil
}

func isFinish(e StreamEvent) bool {
	_, ok := e.(FinishStep)
	return ok
}

type mockStream struct {
	ctx    context.Context
	mu     sync.Mutex
	events []StreamEvent
	pos    int
}

func (s *mockStream) Recv() (StreamEvent, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	e := s.events[s.pos]
	s.pos++
	return e, nil
}

func (s *mockStream) Close() {}

// TextScript builds a script that streams the given text and stops.
func TextScript(text string) Script {
	return Script{Events: []StreamEvent{
		TextDelta{Text: text},
		TextEnd{},
		FinishStep{Reason: "stop", Usage: types.TokenUsage{Input: 10, Output: 5}},
	}}
}

// ToolScript builds a script that requests one tool call with the given
// argument JSON.
func ToolScript(callID, tool, argsJSON string) Script {
	return Script{Events: []StreamEvent{
		ToolCallStart{CallID: callID, Name: tool},
		ToolCallDelta{CallID: callID, Delta: argsJSON},
		FinishStep{Reason: "tool_use", Usage: types.TokenUsage{Input: 10, Output: 5}},
	}}
}
