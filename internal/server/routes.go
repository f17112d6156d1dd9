package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/status", s.getStatus)

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.killSession)

			r.Post("/stop", s.stopSession)
			r.Post("/interrupt", s.interruptSession)
			r.Post("/restart", s.restartSession)
			r.Post("/pause", s.pauseSession)
		})
	})

	// Event streaming (SSE)
	r.Get("/event", s.events)

	// In-process chat platform
	if s.chat != nil {
		r.Route("/thread", func(r chi.Router) {
			r.Get("/", s.listThreads)
			r.Post("/", s.createThread)
			r.Get("/{threadID}", s.getThread)
			r.Post("/{threadID}/message", s.postMessage)
		})
		r.Post("/post/{postID}/reaction", s.addReaction)
		r.Delete("/post/{postID}/reaction", s.removeReaction)
	}
}
