package domain

import (
	"time"
)

// Turn roles. Every conversation turn is attributed to one side.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single utterance in a conversation, from either the user or
// the assistant.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn builds a turn stamped with the current time.
func NewTurn(role, text string) Turn {
	return Turn{Role: role, Text: text, Timestamp: time.Now()}
}
