package project

import (
	"context"
	"time"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/store"
	"github.com/agentd-dev/agentd/pkg/types"
)

// Service resolves directories to persisted projects and serves the
// project API.
type Service struct {
	store *store.Store
	bus   *event.Bus
}

// NewService creates a project service.
func NewService(st *store.Store, bus *event.Bus) *Service {
	return &Service{store: st, bus: bus}
}

// Resolve maps a directory to its project, creating the row on first open
// and refreshing the worktree when the project already exists. Projects
// are never deleted implicitly.
func (s *Service) Resolve(ctx context.Context, directory string) (*types.Project, error) {
	d, err := detect(directory)
	if err != nil {
		return nil, err
	}

	repo := s.store.Repo()
	now := time.Now().UnixMilli()

	p, err := repo.GetProject(ctx, d.id)
	if err != nil {
		p = &types.Project{
			ID:       d.id,
			Worktree: d.worktree,
			VCS:      d.vcs,
			Time:     types.ProjectTime{Created: now, Updated: now},
		}
		if err := repo.PutProject(ctx, p); err != nil {
			return nil, err
		}
		s.bus.Publish(event.ProjectUpdated, event.ProjectUpdatedData{Info: p})
		return p, nil
	}

	// The root commit survives worktree moves; follow the directory.
	if p.Worktree != d.worktree || p.VCS != d.vcs {
		p.Worktree = d.worktree
		p.VCS = d.vcs
		p.Time.Updated = now
		if err := repo.PutProject(ctx, p); err != nil {
			return nil, err
		}
		s.bus.Publish(event.ProjectUpdated, event.ProjectUpdatedData{Info: p})
	}
	return p, nil
}

// Get fetches a project by ID.
func (s *Service) Get(ctx context.Context, id string) (*types.Project, error) {
	p, err := s.store.Repo().GetProject(ctx, id)
	if err != nil {
		return nil, types.NewError(types.ErrorNotFound, "project not found: "+id)
	}
	return p, nil
}

// List returns every known project.
func (s *Service) List(ctx context.Context) ([]*types.Project, error) {
	return s.store.Repo().ListProjects(ctx)
}

// UpdateInput names the mutable project fields.
type UpdateInput struct {
	Name      *string `json:"name,omitempty"`
	IconURL   *string `json:"iconUrl,omitempty"`
	IconColor *string `json:"iconColor,omitempty"`
}

// Update applies display-field updates.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*types.Project, error) {
	var updated *types.Project
	err := s.store.Tx(ctx, func(r *store.Repo) error {
		p, err := r.GetProject(ctx, id)
		if err != nil {
			return types.NewError(types.ErrorNotFound, "project not found: "+id)
		}
		if in.Name != nil {
			p.Name = *in.Name
		}
		if in.IconURL != nil {
			p.IconURL = *in.IconURL
		}
		if in.IconColor != nil {
			p.IconColor = *in.IconColor
		}
		p.Time.Updated = time.Now().UnixMilli()
		updated = p
		return r.PutProject(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(event.ProjectUpdated, event.ProjectUpdatedData{Info: updated})
	return updated, nil
}

// Initialize stamps the one-time initialised marker.
func (s *Service) Initialize(ctx context.Context, id string) (*types.Project, error) {
	var updated *types.Project
	err := s.store.Tx(ctx, func(r *store.Repo) error {
		p, err := r.GetProject(ctx, id)
		if err != nil {
			return types.NewError(types.ErrorNotFound, "project not found: "+id)
		}
		if p.Time.Initialized == nil {
			now := time.Now().UnixMilli()
			p.Time.Initialized = &now
			p.Time.Updated = now
		}
		updated = p
		return r.PutProject(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(event.ProjectUpdated, event.ProjectUpdatedData{Info: updated})
	return updated, nil
}
