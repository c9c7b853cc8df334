package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ndelin/aide/internal/domain"
	"github.com/ndelin/aide/internal/store"
)

type createEventRequest struct {
	Title    string `json:"title"`
	Location string `json:"location"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

// ListEvents returns all calendar events for the current user in start order.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	user := userFrom(w, r)
	if user == nil {
		return
	}

	events, err := h.repo.ListEvents(r.Context(), user.UserID)
	if err != nil {
		slog.Error("Failed to list events", "error", err, "user_id", user.UserID)
		Error(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*domain.Event{}
	}
	JSON(w, http.StatusOK, events)
}

// CreateEvent creates a calendar event from the request body.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	user := userFrom(w, r)
	if user == nil {
		return
	}

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.StartsAt == "" {
		Error(w, http.StatusBadRequest, "starts_at is required")
		return
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		Error(w, http.StatusBadRequest, "starts_at must be RFC 3339")
		return
	}

	event := &domain.Event{
		ID:        uuid.NewString(),
		UserID:    user.UserID,
		Title:     req.Title,
		Location:  req.Location,
		Source:    domain.EventSourcePrimary,
		StartsAt:  startsAt,
		CreatedAt: time.Now(),
	}
	if req.EndsAt != "" {
		endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
		if err != nil {
			Error(w, http.StatusBadRequest, "ends_at must be RFC 3339")
			return
		}
		event.EndsAt = &endsAt
	}

	if err := h.repo.CreateEvent(r.Context(), event); err != nil {
		slog.Error("Failed to create event", "error", err, "user_id", user.UserID)
		Error(w, http.StatusInternalServerError, "failed to create event")
		return
	}
	JSON(w, http.StatusCreated, event)
}

// DeleteEvent removes a calendar event.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	user := userFrom(w, r)
	if user == nil {
		return
	}
	eventID := chi.URLParam(r, "eventID")

	if err := h.repo.DeleteEvent(r.Context(), user.UserID, eventID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "event not found")
			return
		}
		slog.Error("Failed to delete event", "error", err, "user_id", user.UserID, "event_id", eventID)
		Error(w, http.StatusInternalServerError, "failed to delete event")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
