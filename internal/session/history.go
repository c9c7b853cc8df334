package session

import (
	"sync"

	"github.com/ndelin/aide/internal/domain"
)

const (
	// historyCap bounds per-session conversation memory. Oldest turns are
	// evicted first once the cap is reached.
	historyCap = 10

	// recentTurns is how much history accompanies each oracle request.
	recentTurns = 5
)

// TurnHistory is a fixed-size ring of conversation turns.
// Prevents unbounded memory growth over long-lived sessions.
type TurnHistory struct {
	mu    sync.RWMutex
	turns []domain.Turn
	head  int // next write position
	count int
}

// NewTurnHistory creates a history ring with the given capacity.
func NewTurnHistory(capacity int) *TurnHistory {
	if capacity <= 0 {
		capacity = historyCap
	}
	return &TurnHistory{turns: make([]domain.Turn, capacity)}
}

// Append records a turn, evicting the oldest when full.
func (h *TurnHistory) Append(turn domain.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns[h.head] = turn
	h.head = (h.head + 1) % len(h.turns)
	if h.count < len(h.turns) {
		h.count++
	}
}

// Recent returns up to n most recent turns in chronological order.
func (h *TurnHistory) Recent(n int) []domain.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n > h.count {
		n = h.count
	}
	if n <= 0 {
		return nil
	}

	out := make([]domain.Turn, n)
	start := h.head - n
	if start < 0 {
		start += len(h.turns)
	}
	for i := 0; i < n; i++ {
		out[i] = h.turns[(start+i)%len(h.turns)]
	}
	return out
}

// All returns every stored turn in chronological order.
func (h *TurnHistory) All() []domain.Turn {
	return h.Recent(len(h.turns))
}

// Len returns the number of stored turns.
func (h *TurnHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Reset discards all turns.
func (h *TurnHistory) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head = 0
	h.count = 0
}
