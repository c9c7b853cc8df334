package domain

import (
	"time"
)

// Task is a single to-do item owned by a user.
type Task struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	Done      bool       `json:"done"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Overdue reports whether the task has a due date in the past and is not done.
func (t *Task) Overdue(now time.Time) bool {
	return !t.Done && t.DueAt != nil && t.DueAt.Before(now)
}
