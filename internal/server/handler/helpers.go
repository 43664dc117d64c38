// Package handler holds the HTTP handlers of the replay API.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

const maxListLimit = 1000

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// writeJSON marshals v before touching the response, so a value that cannot
// be encoded still yields a clean 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data, _ = json.Marshal(errorBody{Error: "internal server error", Status: status})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Status: status})
}

// statusParam reads the optional ?status= filter. An empty value matches
// every session.
func statusParam(r *http.Request) (domain.SessionStatus, error) {
	raw := r.URL.Query().Get("status")
	switch s := domain.SessionStatus(raw); s {
	case "", domain.SessionRunning, domain.SessionCompleted, domain.SessionFailed, domain.SessionCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// limitParam reads ?limit=, 0 meaning unlimited.
func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, fmt.Errorf("limit must be 1-%d", maxListLimit)
	}
	return n, nil
}
