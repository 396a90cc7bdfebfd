package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/id"
	"github.com/agentd-dev/agentd/internal/store"
	"github.com/agentd-dev/agentd/pkg/types"
)

// Service is the CRUD layer over sessions the API calls into. Turn
// execution lives in the Engine; everything here is plain persistence
// plus events.
type Service struct {
	store *store.Store
	bus   *event.Bus
}

// NewService creates a session service.
func NewService(st *store.Store, bus *event.Bus) *Service {
	return &Service{store: st, bus: bus}
}

// CreateInput names the optional fields of a new session.
type CreateInput struct {
	Title    string `json:"title,omitempty"`
	ParentID string `json:"parentID,omitempty"`
}

// Create persists a new session in the project.
func (s *Service) Create(ctx context.Context, project *types.Project, in CreateInput) (*types.Session, error) {
	now := time.Now().UnixMilli()
	title := in.Title
	if title == "" {
		title = defaultTitle
	}

	sess := &types.Session{
		ID:        id.Ascending(id.Session),
		ProjectID: project.ID,
		Directory: project.Worktree,
		Title:     title,
		Version:   "1",
		Time:      types.SessionTime{Created: now, Updated: now},
	}
	if in.ParentID != "" {
		parent := in.ParentID
		sess.ParentID = &parent
	}

	if err := s.store.Repo().PutSession(ctx, sess); err != nil {
		return nil, err
	}
	s.bus.Publish(event.SessionUpdated, event.SessionUpdatedData{Info: sess})
	return sess, nil
}

// Get fetches a session.
func (s *Service) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	sess, err := s.store.Repo().GetSession(ctx, sessionID)
	if err != nil {
		return nil, types.NewError(types.ErrorNotFound, "session not found: "+sessionID)
	}
	return sess, nil
}

// List returns the project's sessions, newest first.
func (s *Service) List(ctx context.Context, projectID string) ([]*types.Session, error) {
	return s.store.Repo().ListSessions(ctx, projectID)
}

// Children returns the forks of a session.
func (s *Service) Children(ctx context.Context, sessionID string) ([]*types.Session, error) {
	return s.store.Repo().ListChildSessions(ctx, sessionID)
}

// UpdateInput names the mutable session fields.
type UpdateInput struct {
	Title    *string `json:"title,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// Update applies the given field updates.
func (s *Service) Update(ctx context.Context, sessionID string, in UpdateInput) (*types.Session, error) {
	var updated *types.Session
	err := s.store.Tx(ctx, func(r *store.Repo) error {
		sess, err := r.GetSession(ctx, sessionID)
		if err != nil {
			return types.NewError(types.ErrorNotFound, "session not found: "+sessionID)
		}
		if in.Title != nil {
			sess.Title = *in.Title
		}
		if in.Archived != nil {
			if *in.Archived {
				now := time.Now().UnixMilli()
				sess.Time.Archived = &now
			} else {
				sess.Time.Archived = nil
			}
		}
		sess.Time.Updated = time.Now().UnixMilli()
		updated = sess
		return r.PutSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(event.SessionUpdated, event.SessionUpdatedData{Info: updated})
	return updated, nil
}

// Delete removes a session and everything it owns.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.store.Repo().DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.bus.Publish(event.SessionDeleted, event.SessionDeletedData{Info: sess})
	return nil
}

// Fork copies a session up to (and including) messageID into a new child
// session. Copied rows get fresh IDs; creation order is preserved, so
// the copy sorts the same way.
func (s *Service) Fork(ctx context.Context, sessionID, messageID string) (*types.Session, error) {
	repo := s.store.Repo()
	parent, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	child := &types.Session{
		ID:          id.Ascending(id.Session),
		ProjectID:   parent.ProjectID,
		ParentID:    &parent.ID,
		Directory:   parent.Directory,
		Title:       parent.Title + " (fork)",
		Version:     parent.Version,
		Permissions: parent.Permissions,
		Time:        types.SessionTime{Created: now, Updated: now},
	}

	messages, err := repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// Load everything before the transaction; the single-connection pool
	// cannot serve reads while a write transaction is open.
	partsByMsg := make(map[string][]types.Part, len(messages))
	for _, msg := range messages {
		if messageID != "" && msg.ID > messageID {
			break
		}
		parts, err := repo.ListParts(ctx, msg.ID)
		if err != nil {
			return nil, err
		}
		partsByMsg[msg.ID] = parts
	}

	err = s.store.Tx(ctx, func(r *store.Repo) error {
		if err := r.PutSession(ctx, child); err != nil {
			return err
		}
		for _, msg := range messages {
			if messageID != "" && msg.ID > messageID {
				break
			}
			copied := *msg
			copied.ID = id.Ascending(id.Message)
			copied.SessionID = child.ID
			if err := r.PutMessage(ctx, &copied); err != nil {
				return err
			}
			for _, part := range partsByMsg[msg.ID] {
				if err := r.PutPart(ctx, reparent(part, child.ID, copied.ID)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(event.SessionUpdated, event.SessionUpdatedData{Info: child})
	return child, nil
}

// reparent clones a part under a new session/message with a fresh ID.
func reparent(p types.Part, sessionID, messageID string) types.Part {
	switch pt := p.(type) {
	case *types.TextPart:
		c := *pt
		c.ID, c.SessionID, c.MessageID = id.Ascending(id.Part), sessionID, messageID
		return &c
	case *types.ReasoningPart:
		c := *pt
		c.ID, c.SessionID, c.MessageID = id.Ascending(id.Part), sessionID, messageID
		return &c
	case *types.ToolPart:
		c := *pt
		c.ID, c.SessionID, c.MessageID = id.Ascending(id.Part), sessionID, messageID
		return &c
	case *types.FilePart:
		c := *pt
		c.ID, c.SessionID, c.MessageID = id.Ascending(id.Part), sessionID, messageID
		return &c
	case *types.StepStartPart:
		c := *pt
		c.ID, c.SessionID, c.MessageID = id.Ascending(id.Part), sessionID, messageID
		return &c
	case *types.StepFinishPart:
		c := *pt
		c.ID, c.SessionID, c.MessageID = id.Ascending(id.Part), sessionID, messageID
		return &c
	case *types.PatchPart:
		c := *pt
		c.ID, c.SessionID, c.MessageID = id.Ascending(id.Part), sessionID, messageID
		return &c
	default:
		return p
	}
}

// Share mints a local share handle for the session. Publishing to an
// external service is out of scope; the handle is the stable contract.
func (s *Service) Share(ctx context.Context, sessionID string) (*types.ShareInfo, error) {
	var info *types.ShareInfo
	err := s.store.Tx(ctx, func(r *store.Repo) error {
		sess, err := r.GetSession(ctx, sessionID)
		if err != nil {
			return types.NewError(types.ErrorNotFound, "session not found: "+sessionID)
		}
		if sess.Share != nil {
			info = sess.Share
			return nil
		}

		secret := make([]byte, 16)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		info = &types.ShareInfo{
			ID:     sessionID,
			Secret: hex.EncodeToString(secret),
			URL:    "agentd://share/" + sessionID,
		}
		sess.Share = info
		sess.Time.Updated = time.Now().UnixMilli()
		if err := r.PutShare(ctx, sessionID, *info); err != nil {
			return err
		}
		return r.PutSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Unshare revokes the session's share handle.
func (s *Service) Unshare(ctx context.Context, sessionID string) error {
	return s.store.Tx(ctx, func(r *store.Repo) error {
		sess, err := r.GetSession(ctx, sessionID)
		if err != nil {
			return types.NewError(types.ErrorNotFound, "session not found: "+sessionID)
		}
		sess.Share = nil
		sess.Time.Updated = time.Now().UnixMilli()
		if err := r.DeleteShare(ctx, sessionID); err != nil {
			return err
		}
		return r.PutSession(ctx, sess)
	})
}

// Messages returns a session's messages in conversation order.
func (s *Service) Messages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	repo := s.store.Repo()
	messages, err := repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// A reverted tail is hidden from listings until the next prompt
	// deletes it for real.
	if sess, err := repo.GetSession(ctx, sessionID); err == nil && sess.Revert != nil {
		messages = revertVisible(messages, nil, sess.Revert)
	}
	return messages, nil
}

// Parts returns a message's parts in creation order.
func (s *Service) Parts(ctx context.Context, messageID string) ([]types.Part, error) {
	return s.store.Repo().ListParts(ctx, messageID)
}

// Todos returns a session's todo list.
func (s *Service) Todos(ctx context.Context, sessionID string) ([]types.Todo, error) {
	return s.store.Repo().GetTodos(ctx, sessionID)
}

// Diff returns a session's accumulated file diff summary.
func (s *Service) Diff(ctx context.Context, sessionID string) (types.SessionSummary, error) {
	return s.store.Repo().GetDiff(ctx, sessionID)
}

// Revert anchors the session at an earlier message.
func (s *Service) Revert(ctx context.Context, sessionID, messageID string, partID *string) (*types.Session, error) {
	var updated *types.Session
	err := s.store.Tx(ctx, func(r *store.Repo) error {
		sess, err := r.GetSession(ctx, sessionID)
		if err != nil {
			return types.NewError(types.ErrorNotFound, "session not found: "+sessionID)
		}
		sess.Revert = &types.SessionRevert{MessageID: messageID, PartID: partID}
		sess.Time.Updated = time.Now().UnixMilli()
		updated = sess
		return r.PutSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(event.SessionUpdated, event.SessionUpdatedData{Info: updated})
	return updated, nil
}

// Unrevert clears a session's revert anchor.
func (s *Service) Unrevert(ctx context.Context, sessionID string) (*types.Session, error) {
	var updated *types.Session
	err := s.store.Tx(ctx, func(r *store.Repo) error {
		sess, err := r.GetSession(ctx, sessionID)
		if err != nil {
			return types.NewError(types.ErrorNotFound, "session not found: "+sessionID)
		}
		sess.Revert = nil
		sess.Time.Updated = time.Now().UnixMilli()
		updated = sess
		return r.PutSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(event.SessionUpdated, event.SessionUpdatedData{Info: updated})
	return updated, nil
}
