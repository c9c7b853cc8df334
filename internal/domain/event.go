package domain

import (
	"time"
)

// Event source values. Events created through the normal path are "primary";
// events created by recovery with alternative options are "local".
const (
	EventSourcePrimary = "primary"
	EventSourceLocal   = "local"
)

// Event is a calendar entry owned by a user.
type Event struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	Location  string     `json:"location,omitempty"`
	Source    string     `json:"source"`
	StartsAt  time.Time  `json:"starts_at"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Duration returns the event length, or zero if no end time is set.
func (e *Event) Duration() time.Duration {
	if e.EndsAt == nil {
		return 0
	}
	return e.EndsAt.Sub(e.StartsAt)
}
