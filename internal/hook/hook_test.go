package hook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateToolMutatesArgs(t *testing.T) {
	d := NewDispatcher()
	d.Register(Handlers{
		ValidateTool: func(ctx context.Context, in ValidateInput, out *ValidateOutput) error {
			out.Args["injected"] = true
			return nil
		},
	})

	out := d.ValidateTool(context.Background(), ValidateInput{
		Tool: "bash",
		Args: map[string]any{"command": "ls"},
	})

	assert.False(t, out.Blocked)
	assert.Equal(t, true, out.Args["injected"])
	assert.Equal(t, "ls", out.Args["command"])
}

func TestValidateToolBlockStopsChain(t *testing.T) {
	d := NewDispatcher()
	var secondRan bool
	d.Register(Handlers{
		ValidateTool: func(ctx context.Context, in ValidateInput, out *ValidateOutput) error {
			out.Blocked = true
			out.Reason = "write outside worktree"
			return nil
		},
	})
	d.Register(Handlers{
		ValidateTool: func(ctx context.Context, in ValidateInput, out *ValidateOutput) error {
			secondRan = true
			return nil
		},
	})

	out := d.ValidateTool(context.Background(), ValidateInput{Tool: "edit"})
	require.True(t, out.Blocked)
	assert.Equal(t, "write outside worktree", out.Reason)
	assert.False(t, secondRan)
}

func TestValidateToolErrorIsSwallowed(t *testing.T) {
	d := NewDispatcher()
	d.Register(Handlers{
		ValidateTool: func(ctx context.Context, in ValidateInput, out *ValidateOutput) error {
			return errors.New("hook exploded")
		},
	})

	out := d.ValidateTool(context.Background(), ValidateInput{Tool: "bash"})
	assert.False(t, out.Blocked)
}

func TestTransformResultChains(t *testing.T) {
	d := NewDispatcher()
	d.Register(Handlers{
		TransformResult: func(ctx context.Context, in TransformInput, out *TransformOutput) error {
			out.Title = "first"
			return nil
		},
	})
	d.Register(Handlers{
		TransformResult: func(ctx context.Context, in TransformInput, out *TransformOutput) error {
			out.Title += "+second"
			return nil
		},
	})

	out := d.TransformResult(context.Background(), TransformInput{Tool: "read"},
		TransformOutput{Output: "contents"})
	assert.Equal(t, "first+second", out.Title)
	assert.Equal(t, "contents", out.Output)
}

func TestSessionStopFireAndForget(t *testing.T) {
	d := NewDispatcher()
	var mu sync.Mutex
	var got []StopInput
	done := make(chan struct{})
	d.Register(Handlers{
		SessionStop: func(ctx context.Context, in StopInput) error {
			mu.Lock()
			got = append(got, in)
			mu.Unlock()
			close(done)
			return nil
		},
	})

	d.SessionStop(StopInput{SessionID: "ses_1", Reason: "stop"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop hook never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "stop", got[0].Reason)
}

func TestNotifyDeliversAndSwallowsErrors(t *testing.T) {
	d := NewDispatcher()
	d.Register(Handlers{
		Notification: func(ctx context.Context, in NotificationInput) (*Notification, error) {
			return nil, errors.New("no notifier available")
		},
	})
	d.Register(Handlers{
		Notification: func(ctx context.Context, in NotificationInput) (*Notification, error) {
			return &Notification{Title: "Turn complete"}, nil
		},
	})

	delivered := make(chan Notification, 1)
	d.Notify(NotificationInput{SessionID: "ses_1", Type: "idle"}, func(n Notification) {
		delivered <- n
	})

	select {
	case n := <-delivered:
		assert.Equal(t, "Turn complete", n.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
}
