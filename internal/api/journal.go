package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ndelin/aide/internal/domain"
)

const defaultJournalLimit = 50

type createJournalRequest struct {
	Body string `json:"body"`
	Mood string `json:"mood"`
}

// ListJournal returns recent journal entries for the current user, newest
// first. The optional limit query parameter caps the result.
func (h *Handler) ListJournal(w http.ResponseWriter, r *http.Request) {
	user := userFrom(w, r)
	if user == nil {
		return
	}

	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.repo.ListJournalEntries(r.Context(), user.UserID, limit)
	if err != nil {
		slog.Error("Failed to list journal entries", "error", err, "user_id", user.UserID)
		Error(w, http.StatusInternalServerError, "failed to list journal entries")
		return
	}
	if entries == nil {
		entries = []*domain.JournalEntry{}
	}
	JSON(w, http.StatusOK, entries)
}

// CreateJournalEntry creates a journal entry from the request body.
func (h *Handler) CreateJournalEntry(w http.ResponseWriter, r *http.Request) {
	user := userFrom(w, r)
	if user == nil {
		return
	}

	var req createJournalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Body == "" {
		Error(w, http.StatusBadRequest, "body is required")
		return
	}

	entry := &domain.JournalEntry{
		ID:        uuid.NewString(),
		UserID:    user.UserID,
		Body:      req.Body,
		Mood:      req.Mood,
		CreatedAt: time.Now(),
	}
	if err := h.repo.CreateJournalEntry(r.Context(), entry); err != nil {
		slog.Error("Failed to create journal entry", "error", err, "user_id", user.UserID)
		Error(w, http.StatusInternalServerError, "failed to create journal entry")
		return
	}
	JSON(w, http.StatusCreated, entry)
}
