package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ndelin/aide/internal/domain"
	"github.com/ndelin/aide/internal/store"
)

type createTaskRequest struct {
	Title string `json:"title"`
	Notes string `json:"notes"`
	DueAt string `json:"due_at"`
}

// ListTasks returns all tasks for the current user, newest first.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user := userFrom(w, r)
	if user == nil {
		return
	}

	tasks, err := h.repo.ListTasks(r.Context(), user.UserID)
	if err != nil {
		slog.Error("Failed to list tasks", "error", err, "user_id", user.UserID)
		Error(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	JSON(w, http.StatusOK, tasks)
}

// CreateTask creates a task from the request body.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user := userFrom(w, r)
	if user == nil {
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}

	now := time.Now()
	task := &domain.Task{
		ID:        uuid.NewString(),
		UserID:    user.UserID,
		Title:     req.Title,
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.DueAt != "" {
		due, err := time.Parse(time.RFC3339, req.DueAt)
		if err != nil {
			Error(w, http.StatusBadRequest, "due_at must be RFC 3339")
			return
		}
		task.DueAt = &due
	}

	if err := h.repo.CreateTask(r.Context(), task); err != nil {
		slog.Error("Failed to create task", "error", err, "user_id", user.UserID)
		Error(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	JSON(w, http.StatusCreated, task)
}

// SetTaskDone marks a task done or not done. An empty body means done.
func (h *Handler) SetTaskDone(w http.ResponseWriter, r *http.Request) {
	user := userFrom(w, r)
	if user == nil {
		return
	}
	taskID := chi.URLParam(r, "taskID")

	done := true
	var req struct {
		Done *bool `json:"done"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Done != nil {
		done = *req.Done
	}

	if err := h.repo.SetTaskDone(r.Context(), user.UserID, taskID, done); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "task not found")
			return
		}
		slog.Error("Failed to update task", "error", err, "user_id", user.UserID, "task_id", taskID)
		Error(w, http.StatusInternalServerError, "failed to update task")
		return
	}

	task, err := h.repo.GetTask(r.Context(), user.UserID, taskID)
	if err != nil || task == nil {
		Error(w, http.StatusInternalServerError, "failed to load updated task")
		return
	}
	JSON(w, http.StatusOK, task)
}

// DeleteTask removes a task.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user := userFrom(w, r)
	if user == nil {
		return
	}
	taskID := chi.URLParam(r, "taskID")

	if err := h.repo.DeleteTask(r.Context(), user.UserID, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "task not found")
			return
		}
		slog.Error("Failed to delete task", "error", err, "user_id", user.UserID, "task_id", taskID)
		Error(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
