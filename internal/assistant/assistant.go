// Package assistant implements the conversational core: the acknowledgment
// heuristic, the oracle stream relay, confirmation classification, and the
// operation runner that executes confirmed actions.
package assistant

import (
	"encoding/json"

	"github.com/ndelin/aide/internal/domain"
)

// Request is one utterance sent to the oracle together with recent context.
type Request struct {
	Utterance string        `json:"utterance"`
	History   []domain.Turn `json:"history,omitempty"`
}

// Update kinds produced by the relay.
const (
	UpdateProgress = "progress"
	UpdateFinal    = "final"
)

// Update is a single relay result. Progress updates arrive while the
// oracle is still working; exactly one final update ends every relay.
type Update struct {
	Kind             string
	Status           string
	Message          string
	IsError          bool
	ConfirmationData json.RawMessage
	RecoveryOptions  json.RawMessage
}
