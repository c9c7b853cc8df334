package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ndelin/aide/internal/session"
	"github.com/ndelin/aide/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler reports service health and basic liveness numbers.
type HealthHandler struct {
	repo     store.Repository
	registry *session.Registry
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, registry *session.Registry) *HealthHandler {
	return &HealthHandler{repo: repo, registry: registry}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.registry != nil {
		status["active_sessions"] = h.registry.Len()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
