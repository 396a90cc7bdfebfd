package server

import (
	"net/http"
)

// disposeInstance cancels every running turn so the process can exit
// cleanly. The store itself is closed by the process shutdown path.
// POST /instance/dispose
func (s *Server) disposeInstance(w http.ResponseWriter, r *http.Request) {
	s.deps.Engine.Locks().CancelAll()
	writeSuccess(w)
}
