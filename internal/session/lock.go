package session

import (
	"context"
	"sync"

	"github.com/agentd-dev/agentd/pkg/types"
)

// Locks enforces at most one active turn per session. Acquire hands back
// a scoped token whose context is the turn's cancellation signal; Cancel
// fires that signal from outside the turn.
type Locks struct {
	mu   sync.Mutex
	held map[string]*Token
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]*Token)}
}

// Token is a held session lock. Its context is cancelled when the turn
// is aborted; Release must be called on every exit path.
type Token struct {
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	locks     *Locks
}

// Context is the turn's cancellation signal, derived from the context
// passed to Acquire.
func (t *Token) Context() context.Context { return t.ctx }

// Release frees the lock. Safe to call more than once.
func (t *Token) Release() {
	t.cancel()
	t.locks.mu.Lock()
	if t.locks.held[t.sessionID] == t {
		delete(t.locks.held, t.sessionID)
	}
	t.locks.mu.Unlock()
}

// Acquire takes the lock for a session, returning Busy if a turn is
// already live.
func (l *Locks) Acquire(ctx context.Context, sessionID string) (*Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[sessionID]; ok {
		return nil, types.NewError(types.ErrorBusy, "session has an active turn: "+sessionID)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := &Token{sessionID: sessionID, ctx: turnCtx, cancel: cancel, locks: l}
	l.held[sessionID] = t
	return t, nil
}

// Locked reports whether a turn is live for the session.
func (l *Locks) Locked(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[sessionID]
	return ok
}

// Cancel fires the cancellation signal of the session's live turn. It
// reports whether a turn was running; the lock itself is released by the
// unwinding turn, not here.
func (l *Locks) Cancel(sessionID string) bool {
	l.mu.Lock()
	t, ok := l.held[sessionID]
	l.mu.Unlock()

	if ok {
		t.cancel()
	}
	return ok
}

// CancelAll fires every live turn's signal, used during shutdown.
func (l *Locks) CancelAll() {
	l.mu.Lock()
	tokens := make([]*Token, 0, len(l.held))
	for _, t := range l.held {
		tokens = append(tokens, t)
	}
	l.mu.Unlock()

	for _, t := range tokens {
		t.cancel()
	}
}
