// Package domain contains core domain types for the Aide application.
package domain

import (
	"time"
)

// User represents a registered user of the assistant.
type User struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Greeting returns the name the assistant should address the user by.
func (u *User) Greeting() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
