package server

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/agentd-dev/agentd/internal/config"
	"github.com/agentd-dev/agentd/internal/project"
	"github.com/agentd-dev/agentd/pkg/types"
)

// PathInfo describes the server's effective directories.
type PathInfo struct {
	Cwd       string `json:"cwd"`
	Directory string `json:"directory"`
	Worktree  string `json:"worktree"`
	State     string `json:"state"`
	Config    string `json:"config"`
	Data      string `json:"data"`
	Root      string `json:"root"`
}

// GET /path
func (s *Server) getPath(w http.ResponseWriter, r *http.Request) {
	cwd, _ := os.Getwd()
	dir := getDirectory(r.Context())
	worktree := dir
	if p, err := s.currentProject(r); err == nil {
		worktree = p.Worktree
	}

	writeJSON(w, http.StatusOK, PathInfo{
		Cwd:       cwd,
		Directory: dir,
		Worktree:  worktree,
		State:     s.deps.Paths.State,
		Config:    config.GlobalConfigPath(),
		Data:      s.deps.Paths.Data,
		Root:      worktree,
	})
}

// GET /project
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Projects.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if projects == nil {
		projects = []*types.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// GET /project/current
func (s *Server) getCurrentProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.currentProject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// POST /project/{projectID}/update {name?, iconUrl?, iconColor?}
func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	var in project.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	p, err := s.deps.Projects.Update(r.Context(), chi.URLParam(r, "projectID"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /config
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.AppConfig
	if cfg == nil {
		cfg = &types.Config{}
	}
	writeJSON(w, http.StatusOK, cfg)
}
