package session

import (
	"sync"
	"time"
)

// Limiter throttles text inputs per user with a sliding window. Keyed by
// user id, not connection id, so reconnecting does not reset the budget.
type Limiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
}

// NewLimiter creates a limiter allowing limit inputs per window and starts
// the background eviction goroutine.
func NewLimiter(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
	go l.evictLoop()
	return l
}

// Allow records an input for userID and reports whether it is within the
// window budget.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	times := trimExpired(l.hits[userID], now.Add(-l.window))

	if len(times) >= l.limit {
		l.hits[userID] = times
		return false
	}

	l.hits[userID] = append(times, now)
	return true
}

// trimExpired drops leading timestamps at or before cutoff. Timestamps are
// appended in order, so everything after the first fresh one is fresh.
func trimExpired(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

// evictLoop periodically removes idle users from the hits map so it does
// not grow without bound.
func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		cutoff := time.Now().Add(-l.window)
		for userID, times := range l.hits {
			fresh := trimExpired(times, cutoff)
			if len(fresh) == 0 {
				delete(l.hits, userID)
			} else {
				l.hits[userID] = fresh
			}
		}
		l.mu.Unlock()
	}
}
