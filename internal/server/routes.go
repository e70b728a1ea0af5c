package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Put("/", s.createSession) // create-or-get
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)

			r.Post("/reset", s.resetSession)
			r.Post("/fork", s.forkSession)
			r.Post("/stop", s.stopGeneration)

			// Materialized views
			r.Get("/messages", s.getMessages)
			r.Post("/messages", s.sendMessage)
			r.Get("/model-messages", s.getModelMessages)
			r.Get("/presence", s.getPresence)
			r.Post("/presence", s.updatePresence)

			// Agent roster
			r.Route("/agents", func(r chi.Router) {
				r.Get("/", s.listAgents)
				r.Post("/", s.registerAgents)
				r.Delete("/{agentID}", s.removeAgent)
			})

			// Live event stream
			r.Get("/events", s.sessionEvents)
		})
	})

	// Tool-use approval callbacks
	r.Post("/approvals/{toolUseID}", s.resolveApproval)
	r.Post("/answers/{toolUseID}", s.resolveAnswers)
	r.Get("/approvals", s.listApprovals)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
