package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/calliope-av/showrunner/internal/runlog"
)

// handleListRuns returns run history, newest first.
//
// Query parameters:
//   - scene: filter by scene ID
//   - limit: maximum rows to return (store-clamped; zero means default)
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	sceneID := r.URL.Query().Get("scene")
	if len(sceneID) > maxParamLen {
		writeBadRequest(w, "scene exceeds maximum length")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), sceneID, limit)
	if err != nil {
		writeInternalError(w, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleRunTransitions returns one run with its full transition log.
func (s *Server) handleRunTransitions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxParamLen {
		writeBadRequest(w, "invalid run ID")
		return
	}

	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, runlog.ErrRunNotFound) {
			writeNotFound(w, "run not found")
			return
		}
		writeInternalError(w, "failed to get run")
		return
	}

	transitions, err := s.runs.ListTransitions(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to list transitions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":         run,
		"transitions": transitions,
		"count":       len(transitions),
	})
}
