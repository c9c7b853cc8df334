package domain

import (
	"time"
)

// JournalEntry is a free-form note captured by the user, optionally tagged
// with a mood.
type JournalEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	Mood      string    `json:"mood,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
