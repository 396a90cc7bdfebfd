package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes mounts the API surface.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/path", s.getPath)

	r.Route("/project", func(r chi.Router) {
		r.Get("/", s.listProjects)
		r.Get("/current", s.getCurrentProject)
		r.Post("/{projectID}/update", s.updateProject)
	})

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Patch("/", s.updateSession)
			r.Delete("/", s.deleteSession)

			r.Post("/prompt", s.promptSession)
			r.Post("/abort", s.abortSession)
			r.Post("/share", s.shareSession)
			r.Post("/unshare", s.unshareSession)
			r.Post("/summarize", s.summarizeSession)

			r.Get("/message", s.listMessages)
			r.Get("/message/{messageID}/part", s.listParts)

			r.Get("/children", s.getChildren)
			r.Post("/fork", s.forkSession)
			r.Get("/diff", s.getDiff)
			r.Get("/todo", s.getTodos)
			r.Post("/revert", s.revertSession)
			r.Post("/unrevert", s.unrevertSession)

			r.Post("/permission/{permissionID}", s.respondPermission)
		})
	})

	r.Get("/event", s.events)

	r.Get("/file", s.readFile)
	r.Get("/find/files", s.findFiles)

	r.Get("/config", s.getConfig)

	r.Post("/instance/dispose", s.disposeInstance)
}
