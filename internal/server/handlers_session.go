package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentd-dev/agentd/internal/session"
	"github.com/agentd-dev/agentd/pkg/types"
)

// listSessions returns the current project's sessions, newest first.
// GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	p, err := s.currentProject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sessions, err := s.deps.Sessions.List(r.Context(), p.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// createSession creates a session in the current project.
// POST /session {title?, parentID?}
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var in session.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	p, err := s.currentProject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.deps.Sessions.Create(r.Context(), p, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// PATCH /session/{sessionID} {title?, archived?}
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	var in session.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	sess, err := s.deps.Sessions.Update(r.Context(), chi.URLParam(r, "sessionID"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DELETE /session/{sessionID}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w)
}

// promptSession runs a full turn and returns the final assistant message.
// Intermediate state streams over /event.
// POST /session/{sessionID}/prompt {agent?, model?, parts}
func (s *Server) promptSession(w http.ResponseWriter, r *http.Request) {
	var in session.PromptInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	in.SessionID = chi.URLParam(r, "sessionID")
	if len(in.Parts) == 0 {
		writeBadRequest(w, "prompt requires at least one part")
		return
	}

	msg, err := s.deps.Engine.Prompt(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// abortSession cancels the running turn, if any.
// POST /session/{sessionID}/abort
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	aborted := s.deps.Engine.Locks().Cancel(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": aborted})
}

// POST /session/{sessionID}/share
func (s *Server) shareSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Sessions.Share(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// POST /session/{sessionID}/unshare
func (s *Server) unshareSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Unshare(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w)
}

// summarizeSession forces a compaction pass.
// POST /session/{sessionID}/summarize {agent?}
func (s *Server) summarizeSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Agent string `json:"agent,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)

	msg, err := s.deps.Engine.Compactor().Compact(r.Context(), chi.URLParam(r, "sessionID"), in.Agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// GET /session/{sessionID}/message
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.deps.Sessions.Messages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// GET /session/{sessionID}/message/{messageID}/part
func (s *Server) listParts(w http.ResponseWriter, r *http.Request) {
	parts, err := s.deps.Sessions.Parts(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if parts == nil {
		parts = []types.Part{}
	}
	writeJSON(w, http.StatusOK, parts)
}

// GET /session/{sessionID}/children
func (s *Server) getChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.deps.Sessions.Children(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if children == nil {
		children = []*types.Session{}
	}
	writeJSON(w, http.StatusOK, children)
}

// forkSession copies the session up to a message into a new child.
// POST /session/{sessionID}/fork {messageID?}
func (s *Server) forkSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		MessageID string `json:"messageID,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)

	child, err := s.deps.Sessions.Fork(r.Context(), chi.URLParam(r, "sessionID"), in.MessageID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, child)
}

// GET /session/{sessionID}/diff
func (s *Server) getDiff(w http.ResponseWriter, r *http.Request) {
	diff, err := s.deps.Sessions.Diff(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

// GET /session/{sessionID}/todo
func (s *Server) getTodos(w http.ResponseWriter, r *http.Request) {
	todos, err := s.deps.Sessions.Todos(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if todos == nil {
		todos = []types.Todo{}
	}
	writeJSON(w, http.StatusOK, todos)
}

// POST /session/{sessionID}/revert {messageID, partID?}
func (s *Server) revertSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		MessageID string  `json:"messageID"`
		PartID    *string `json:"partID,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.MessageID == "" {
		writeBadRequest(w, "messageID required")
		return
	}
	sess, err := s.deps.Sessions.Revert(r.Context(), chi.URLParam(r, "sessionID"), in.MessageID, in.PartID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// POST /session/{sessionID}/unrevert
func (s *Server) unrevertSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Unrevert(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// respondPermission resolves a pending permission ask.
// POST /session/{sessionID}/permission/{permissionID} {response}
func (s *Server) respondPermission(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Response == "" {
		writeBadRequest(w, "response required")
		return
	}
	if err := s.deps.Gate.Reply(chi.URLParam(r, "permissionID"), in.Response); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w)
}
