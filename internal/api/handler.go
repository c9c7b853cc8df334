// Package api provides the authenticated REST surface for tasks, events
// and journal entries.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ndelin/aide/internal/auth"
	"github.com/ndelin/aide/internal/config"
	"github.com/ndelin/aide/internal/domain"
	"github.com/ndelin/aide/internal/store"
)

// Handler serves the /api routes. Authentication happens in middleware; by
// the time a handler runs the verified user is in the request context.
type Handler struct {
	repo store.Repository
	cfg  *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, cfg *config.Config) *Handler {
	return &Handler{repo: repo, cfg: cfg}
}

// RegisterRoutes registers the authenticated API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/", h.CreateTask)
			r.Patch("/{taskID}/done", h.SetTaskDone)
			r.Delete("/{taskID}", h.DeleteTask)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/", h.CreateEvent)
			r.Delete("/{eventID}", h.DeleteEvent)
		})

		r.Route("/journal", func(r chi.Router) {
			r.Get("/", h.ListJournal)
			r.Post("/", h.CreateJournalEntry)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// userFrom pulls the authenticated user from the request context, writing
// a 401 when it is missing.
func userFrom(w http.ResponseWriter, r *http.Request) *domain.User {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
	}
	return user
}

// GetMe returns the current user's profile.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := userFrom(w, r)
	if user == nil {
		return
	}
	JSON(w, http.StatusOK, user)
}

// GetConfig returns the client-relevant server configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"ping_interval_sec": int(h.cfg.PingInterval.Seconds()),
		"oracle_configured": h.cfg.Oracle.URL != "",
	})
}
