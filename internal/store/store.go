// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ndelin/aide/internal/domain"
)

// ErrNotFound is returned by mutating operations when no row exists for the
// given user. Lookups return (nil, nil) instead.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting user and assistant data.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// ListTasks retrieves all tasks for a user, newest first.
	ListTasks(ctx context.Context, userID string) ([]*domain.Task, error)

	// GetTask retrieves a single task by ID, scoped to the owning user.
	GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error)

	// CreateTask persists a new task.
	CreateTask(ctx context.Context, task *domain.Task) error

	// SetTaskDone marks a task done or not done.
	SetTaskDone(ctx context.Context, userID, taskID string, done bool) error

	// DeleteTask removes a task.
	DeleteTask(ctx context.Context, userID, taskID string) error

	// ListEvents retrieves all calendar events for a user ordered by start time.
	ListEvents(ctx context.Context, userID string) ([]*domain.Event, error)

	// CreateEvent persists a new calendar event.
	CreateEvent(ctx context.Context, event *domain.Event) error

	// DeleteEvent removes a calendar event.
	DeleteEvent(ctx context.Context, userID, eventID string) error

	// ListJournalEntries retrieves journal entries for a user, newest first.
	ListJournalEntries(ctx context.Context, userID string, limit int) ([]*domain.JournalEntry, error)

	// CreateJournalEntry persists a new journal entry.
	CreateJournalEntry(ctx context.Context, entry *domain.JournalEntry) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
