package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calliope-av/showrunner/internal/engine"
	"github.com/calliope-av/showrunner/internal/scene"
)

// maxParamLen limits path and query parameter length to prevent abuse via
// oversized URLs.
const maxParamLen = 100

// handleListScenes returns the stored scene catalogue.
func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	records, err := s.scenes.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list scenes")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"scenes": records, "count": len(records)})
}

// handleGetScene returns the stored scene document verbatim.
func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxParamLen {
		writeBadRequest(w, "invalid scene ID")
		return
	}

	rec, err := s.scenes.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, scene.ErrSceneNotFound) {
			writeNotFound(w, "scene not found")
			return
		}
		writeInternalError(w, "failed to get scene")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(rec.Definition)
}

// handleSaveScene validates and stores a scene document. The next start
// of that scene runs the new version; an active run is not disturbed.
func (s *Server) handleSaveScene(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	sc, err := s.scenes.Put(r.Context(), body, "")
	if err != nil {
		if errors.Is(err, scene.ErrInvalidDocument) || errors.Is(err, scene.ErrInvalidScene) ||
			errors.Is(err, scene.ErrUnknownActionKind) || errors.Is(err, scene.ErrUnknownTransitionKind) ||
			errors.Is(err, scene.ErrUnknownTarget) || errors.Is(err, scene.ErrDeadEndState) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to save scene")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"scene_id": sc.SceneID,
		"name":     sc.Description,
		"states":   len(sc.States),
	})
}

// handleStartScene starts a run of the named scene. An active run is
// interrupted first, same as a start from the control topic.
func (s *Server) handleStartScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxParamLen {
		writeBadRequest(w, "invalid scene ID")
		return
	}

	if err := s.engine.StartScene(r.Context(), id, "api"); err != nil {
		switch {
		case errors.Is(err, scene.ErrSceneNotFound):
			writeNotFound(w, "scene not found")
		case errors.Is(err, engine.ErrNotRunning):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "engine not running")
		default:
			writeInternalError(w, "failed to start scene")
		}
		return
	}

	// StartScene returns after the engine has processed the command, so
	// the snapshot already carries the new run.
	snap := s.engine.Status()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"scene_id": id,
		"run_id":   snap.RunID,
	})
}

// handleStop ends the active run through its exit actions.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(r.Context(), "api"); err != nil {
		switch {
		case errors.Is(err, engine.ErrNoActiveRun):
			writeError(w, http.StatusConflict, ErrCodeConflict, "no active run")
		case errors.Is(err, engine.ErrNotRunning):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "engine not running")
		default:
			writeInternalError(w, "failed to stop run")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

// handleButton simulates a button press. The press follows the same path
// as a press arriving on the button topic: it may start the default scene
// or fire a button transition, or do nothing at all.
func (s *Server) handleButton(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxParamLen {
		writeBadRequest(w, "invalid button ID")
		return
	}

	s.engine.HandleButton(id)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"button": id,
	})
}
