// Package hook provides the lifecycle extension points the engine fires
// around tool execution and turn completion.
package hook

import (
	"context"
	"sync"

	"github.com/agentd-dev/agentd/internal/logging"
)

// ValidateInput is passed to tool.execute.validate handlers before a tool
// runs.
type ValidateInput struct {
	Tool      string
	SessionID string
	CallID    string
	Args      map[string]any
}

// ValidateOutput is the handler's verdict. Handlers may mutate Args;
// setting Blocked raises a terminal tool error carrying Reason.
type ValidateOutput struct {
	Args    map[string]any
	Blocked bool
	Reason  string
}

// TransformInput is passed to tool.result.transform handlers after a tool
// completes.
type TransformInput struct {
	Tool      string
	SessionID string
	CallID    string
}

// TransformOutput lets handlers rewrite the result before it is recorded.
type TransformOutput struct {
	Title    string
	Output   string
	Metadata map[string]any
}

// StopInput is passed to session.stop handlers when a turn ends.
type StopInput struct {
	SessionID string
	Reason    string // "stop" | "compact" | "error"
}

// NotificationInput is passed to notification.send handlers.
type NotificationInput struct {
	SessionID string
	Type      string
}

// Notification is a handler-produced desktop/remote notification.
type Notification struct {
	Title string
	Body  string
	Data  map[string]any
}

// Handlers hold the optional callbacks one extension registers. Nil
// callbacks are simply skipped.
type Handlers struct {
	ValidateTool    func(ctx context.Context, in ValidateInput, out *ValidateOutput) error
	TransformResult func(ctx context.Context, in TransformInput, out *TransformOutput) error
	SessionStop     func(ctx context.Context, in StopInput) error
	Notification    func(ctx context.Context, in NotificationInput) (*Notification, error)
}

// Dispatcher fans lifecycle events out to registered handlers. Handler
// errors are logged and swallowed; the one first-class failure mode is a
// validate handler blocking the call.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handlers
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register adds a handler set. Handlers run in registration order.
func (d *Dispatcher) Register(h Handlers) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

func (d *Dispatcher) snapshot() []Handlers {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers
}

// ValidateTool runs tool.execute.validate across all handlers. The
// returned output carries the (possibly mutated) args; Blocked set by any
// handler stops the chain.
func (d *Dispatcher) ValidateTool(ctx context.Context, in ValidateInput) ValidateOutput {
	out := ValidateOutput{Args: in.Args}
	for _, h := range d.snapshot() {
		if h.ValidateTool == nil {
			continue
		}
		if err := h.ValidateTool(ctx, in, &out); err != nil {
			logging.Warn().Err(err).Str("tool", in.Tool).Msg("tool validate hook failed")
			continue
		}
		if out.Blocked {
			return out
		}
		in.Args = out.Args
	}
	return out
}

// TransformResult runs tool.result.transform across all handlers, feeding
// each the previous handler's output.
func (d *Dispatcher) TransformResult(ctx context.Context, in TransformInput, out TransformOutput) TransformOutput {
	for _, h := range d.snapshot() {
		if h.TransformResult == nil {
			continue
		}
		if err := h.TransformResult(ctx, in, &out); err != nil {
			logging.Warn().Err(err).Str("tool", in.Tool).Msg("tool transform hook failed")
		}
	}
	return out
}

// SessionStop fires session.stop handlers, fire-and-forget.
func (d *Dispatcher) SessionStop(in StopInput) {
	handlers := d.snapshot()
	go func() {
		for _, h := range handlers {
			if h.SessionStop == nil {
				continue
			}
			if err := h.SessionStop(context.Background(), in); err != nil {
				logging.Warn().Err(err).Str("session", in.SessionID).Msg("session stop hook failed")
			}
		}
	}()
}

// Notify fires notification.send handlers asynchronously; errors are
// swallowed after logging.
func (d *Dispatcher) Notify(in NotificationInput, deliver func(Notification)) {
	handlers := d.snapshot()
	go func() {
		for _, h := range handlers {
			if h.Notification == nil {
				continue
			}
			n, err := h.Notification(context.Background(), in)
			if err != nil {
				logging.Warn().Err(err).Str("session", in.SessionID).Msg("notification hook failed")
				continue
			}
			if n != nil && deliver != nil {
				deliver(*n)
			}
		}
	}()
}
