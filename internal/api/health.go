package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger is anything whose liveness can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports dependency health.
type HealthHandler struct {
	db      Pinger
	timeout time.Duration
}

// NewHealthHandler creates a health handler probing db.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db, timeout: 2 * time.Second}
}

// RegisterHealth registers GET /health.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// Health pings the database and returns 503 when it is unreachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	status, code := "ok", http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "check", "database", "error", err)
		checks["database"] = "unavailable"
		status, code = "degraded", http.StatusServiceUnavailable
	}

	JSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
