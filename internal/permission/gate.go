package permission

import (
	"context"
	"sync"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/id"
	"github.com/agentd-dev/agentd/internal/logging"
	"github.com/agentd-dev/agentd/internal/store"
	"github.com/agentd-dev/agentd/pkg/types"
)

// Gate carries interactive permission requests between a running tool call
// and whichever client answers them. A pending ask is tied to the
// enclosing turn's context: if the turn aborts, the ask resolves as
// reject.
type Gate struct {
	bus   *event.Bus
	store *store.Store

	mu      sync.Mutex
	pending map[string]chan string // request ID -> response
}

// NewGate creates a gate publishing on the given bus and persisting
// "always" rules through the given store.
func NewGate(bus *event.Bus, st *store.Store) *Gate {
	return &Gate{
		bus:     bus,
		store:   st,
		pending: make(map[string]chan string),
	}
}

// Ask evaluates the request against the layered rulesets and, when the
// effective action is ask, publishes permission.updated and blocks until a
// reply arrives or ctx is cancelled. It returns nil when the call may
// proceed and a PermissionDenied error otherwise.
func (g *Gate) Ask(ctx context.Context, req Request, rulesets ...[]types.PermissionRule) error {
	switch Evaluate(req.Key, rulesets...) {
	case types.ActionAllow:
		return nil
	case types.ActionDeny:
		return Rejected(req, false)
	}

	reqID := id.Ascending(id.Permission)
	ch := make(chan string, 1)

	g.mu.Lock()
	g.pending[reqID] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, reqID)
		g.mu.Unlock()
	}()

	g.bus.Publish(event.PermissionUpdated, event.PermissionUpdatedData{
		ID:        reqID,
		SessionID: req.SessionID,
		MessageID: req.MessageID,
		CallID:    req.CallID,
		Tool:      req.Tool,
		Title:     req.Title,
		Patterns:  req.Patterns,
		Metadata:  req.Metadata,
	})

	select {
	case <-ctx.Done():
		// Turn aborted; surface the ask as rejected so the tool part
		// records a terminal error.
		return Rejected(req, true)
	case response := <-ch:
		switch response {
		case ResponseOnce:
			return nil
		case ResponseAlways:
			if err := g.appendSessionRules(ctx, req); err != nil {
				logging.Warn().Err(err).Str("session", req.SessionID).
					Msg("failed to persist always rules")
			}
			return nil
		default:
			return Rejected(req, true)
		}
	}
}

// Reply resolves a pending request. Unknown IDs return NotFound; replying
// twice to the same request is also NotFound.
func (g *Gate) Reply(reqID, response string) error {
	g.mu.Lock()
	ch, ok := g.pending[reqID]
	if ok {
		delete(g.pending, reqID)
	}
	g.mu.Unlock()

	if !ok {
		return types.NewError(types.ErrorNotFound, "no pending permission request: "+reqID)
	}

	ch <- response

	g.bus.Publish(event.PermissionReplied, event.PermissionRepliedData{
		ID:       reqID,
		Response: response,
	})
	return nil
}

// appendSessionRules atomically appends allow rules for the request's
// patterns to the session's override ruleset.
func (g *Gate) appendSessionRules(ctx context.Context, req Request) error {
	patterns := req.Patterns
	if len(patterns) == 0 {
		patterns = []string{req.Key}
	}
	return g.store.Tx(ctx, func(r *store.Repo) error {
		sess, err := r.GetSession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		existing := make(map[string]bool, len(sess.Permissions))
		for _, rule := range sess.Permissions {
			existing[rule.Pattern] = true
		}
		for _, p := range patterns {
			if existing[p] {
				continue
			}
			sess.Permissions = append(sess.Permissions, types.PermissionRule{
				Pattern: p,
				Action:  types.ActionAllow,
			})
		}
		return r.PutSession(ctx, sess)
	})
}
