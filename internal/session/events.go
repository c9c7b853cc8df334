package session

import (
	"encoding/json"
	"time"
)

// Outbound event types. Outbound names are never voice-prefixed; the client
// decides whether to speak an event from its shouldSpeak flag.
const (
	EventConnected                 = "connected"
	EventPong                      = "pong"
	EventConversationStarted       = "conversation_started"
	EventConversationEnded         = "conversation_ended"
	EventUserMessage               = "user_message"
	EventAcknowledgment            = "acknowledgment"
	EventProgress                  = "progress"
	EventResponse                  = "response"
	EventOperationCompleted        = "operation_completed"
	EventOperationCancelled        = "operation_cancelled"
	EventConfirmationClarification = "confirmation_clarification"
	EventRecoveryCompleted         = "recovery_completed"
	EventRecoverySkipped           = "recovery_skipped"
	EventRecoveryClarification     = "recovery_clarification"
	EventError                     = "error"
)

// Event is the outbound envelope. Field names are camelCase on the wire.
// ShouldSpeak is always serialized so voice clients never have to guess.
type Event struct {
	Type             string          `json:"type"`
	Message          string          `json:"message,omitempty"`
	Text             string          `json:"text,omitempty"`
	ShouldSpeak      bool            `json:"shouldSpeak"`
	IsError          bool            `json:"isError,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	ConfirmationData json.RawMessage `json:"confirmationData,omitempty"`
	RecoveryOptions  json.RawMessage `json:"recoveryOptions,omitempty"`
}

func newEvent(eventType, message string, speak bool) Event {
	return Event{
		Type:        eventType,
		Message:     message,
		ShouldSpeak: speak,
		Timestamp:   time.Now().UTC(),
	}
}

func errorEvent(message string) Event {
	ev := newEvent(EventError, message, false)
	ev.IsError = true
	return ev
}

// userMessageEvent echoes the user's utterance back so all connected UIs
// render it; the text rides in the text field, not message.
func userMessageEvent(text string) Event {
	ev := newEvent(EventUserMessage, "", false)
	ev.Text = text
	return ev
}
