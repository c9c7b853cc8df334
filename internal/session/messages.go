package session

import (
	"encoding/json"
	"strings"
)

// Inbound message types, in canonical (unprefixed) form. Voice clients send
// the same types with a "voice_" prefix; both spellings are accepted.
const (
	TypeStartConversation    = "start_conversation"
	TypeStopConversation     = "stop_conversation"
	TypeTextInput            = "text_input"
	TypePing                 = "ping"
	TypeConfirmationResponse = "confirmation_response"
	TypeRecoveryChoice       = "recovery_choice"
)

// Message is the inbound envelope. Unused fields stay zero for any given
// type; Text carries utterances, Response carries confirmation replies and
// Choice carries recovery selections.
type Message struct {
	Type             string          `json:"type"`
	Text             string          `json:"text,omitempty"`
	Response         string          `json:"response,omitempty"`
	Choice           string          `json:"choice,omitempty"`
	ConfirmationData json.RawMessage `json:"confirmationData,omitempty"`
	RecoveryOptions  json.RawMessage `json:"recoveryOptions,omitempty"`
}

// canonicalType strips the voice alias prefix so the dispatcher handles one
// spelling per operation.
func canonicalType(messageType string) string {
	return strings.TrimPrefix(messageType, "voice_")
}
