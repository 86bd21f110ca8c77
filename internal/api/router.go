package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Read surface (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/devices", s.handleListDevices)

		r.Get("/scenes", s.handleListScenes)
		r.Get("/scenes/{id}", s.handleGetScene)

		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}/transitions", s.handleRunTransitions)

		// WebSocket (auth via single-use ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Control surface (static bearer token)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Post("/scenes", s.handleSaveScene)
			r.Post("/scenes/{id}/start", s.handleStartScene)
			r.Post("/stop", s.handleStop)
			r.Post("/button/{id}", s.handleButton)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
