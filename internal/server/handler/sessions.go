package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cfebook/internal/pipeline"
)

// SessionHandler exposes the session results of the current run.
type SessionHandler struct {
	registry *pipeline.Registry
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler over registry.
func NewSessionHandler(registry *pipeline.Registry, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{registry: registry, logger: logger}
}

// ListSessions returns sessions in the order they started, optionally
// filtered by ?status= and capped by ?limit=. total counts matches before
// the cap.
// GET /api/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	status, err := statusParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions := make([]pipeline.Result, 0)
	for _, res := range h.registry.List() {
		if status == "" || res.Status == status {
			sessions = append(sessions, res)
		}
	}
	total := len(sessions)
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    total,
	})
}

// GetSession returns one session by name.
// GET /api/sessions/{name}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	res, ok := h.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
