package session

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the single live session per user. Registration of a new
// session for a user evicts the previous one; the mutex serializes takeover
// so two live entries for one user never coexist.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Session)}
}

// Register installs sess as the live session for userID. Any existing
// session for the user is terminated with reason "session replaced" before
// the new one is installed.
func (r *Registry) Register(userID string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[userID]; ok && existing != sess {
		existing.Terminate(websocket.StatusNormalClosure, "session replaced")
		slog.Info("Session replaced", "user_id", userID, "old_conn_id", existing.ConnectionID())
	}

	r.active[userID] = sess
	slog.Info("Session registered", "user_id", userID, "conn_id", sess.ConnectionID())
}

// Unregister removes the entry for userID only if it still maps to sess.
// A stale unregister after takeover is a no-op.
func (r *Registry) Unregister(userID string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[userID]; ok && current == sess {
		delete(r.active, userID)
		slog.Info("Session unregistered", "user_id", userID, "conn_id", sess.ConnectionID())
	}
}

// Lookup returns the live session for userID, or nil.
func (r *Registry) Lookup(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[userID]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// CloseAll terminates every live session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, sess := range r.active {
		sess.Terminate(websocket.StatusGoingAway, "server shutting down")
		slog.Info("Session closed", "user_id", userID, "conn_id", sess.ConnectionID())
	}
	r.active = make(map[string]*Session)
}
