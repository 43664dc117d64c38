package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// pingTimeout bounds each dependency check.
const pingTimeout = 2 * time.Second

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	deps   []Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler that pings deps on every request.
func NewHealthHandler(deps []Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger}
}

// HealthCheck reports "ok" when every dependency answers and "degraded" with
// a 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(h.deps))
	for _, d := range h.deps {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		err := d.Ping(ctx)
		cancel()
		if err != nil {
			h.logger.Warn("health: dependency down",
				slog.String("dependency", d.Name()),
				slog.String("error", err.Error()),
			)
			deps[d.Name()] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[d.Name()] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
