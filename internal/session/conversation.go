package session

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/ndelin/aide/internal/domain"
)

const (
	welcomeText = "Hi! I'm Aide. What can I do for you?"
	goodbyeText = "Goodbye! Talk to you soon."
)

// stopPhrases end an active conversation when they appear anywhere in a
// text input, matched as case-insensitive substrings.
var stopPhrases = []string{
	"stop",
	"goodbye",
	"bye",
	"end conversation",
	"turn off",
}

func containsStopPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range stopPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Pending operation kinds.
const (
	PendingConfirmation = "confirmation"
	PendingRecovery     = "recovery"
)

// PendingOperation is an oracle-staged operation awaiting the user's
// confirmation or recovery choice. Data is relayed back to the client
// byte-identical on clarification.
type PendingOperation struct {
	Kind   string
	Prompt string
	Data   json.RawMessage
}

// Conversation holds per-session dialogue state: activity flag, bounded
// turn history and at most one pending operation. All state is owned by the
// session worker; the mutex covers reads from registry lookups and tests.
type Conversation struct {
	mu      sync.Mutex
	active  bool
	history *TurnHistory
	pending *PendingOperation
}

// NewConversation creates an inactive conversation with empty history.
func NewConversation() *Conversation {
	return &Conversation{history: NewTurnHistory(historyCap)}
}

// Start activates the conversation, resets history and records the welcome
// turn. Starting an already active conversation restarts it fresh.
func (c *Conversation) Start() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = true
	c.pending = nil
	c.history.Reset()
	c.history.Append(domain.NewTurn(domain.RoleAssistant, welcomeText))
	return welcomeText
}

// Stop deactivates the conversation, records the goodbye turn and clears
// any pending operation. History survives until the next Start so a
// transcript flush can still read it.
func (c *Conversation) Stop() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = false
	c.pending = nil
	c.history.Append(domain.NewTurn(domain.RoleAssistant, goodbyeText))
	return goodbyeText
}

// Active reports whether the conversation accepts text inputs.
func (c *Conversation) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// AppendTurn records a dialogue turn.
func (c *Conversation) AppendTurn(role, text string) {
	c.history.Append(domain.NewTurn(role, text))
}

// Recent returns up to n most recent turns, oldest first.
func (c *Conversation) Recent(n int) []domain.Turn {
	return c.history.Recent(n)
}

// Turns returns the full stored history, oldest first.
func (c *Conversation) Turns() []domain.Turn {
	return c.history.All()
}

// SetPending stages an operation awaiting user input, replacing any
// previous one.
func (c *Conversation) SetPending(op *PendingOperation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = op
}

// Pending returns the staged operation, or nil.
func (c *Conversation) Pending() *PendingOperation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// ClearPending drops the staged operation.
func (c *Conversation) ClearPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}
