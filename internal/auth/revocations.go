package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Revocations tracks credentials invalidated before their natural expiry.
type Revocations interface {
	// Revoke marks a credential invalid for ttl.
	Revoke(ctx context.Context, credential string, ttl time.Duration) error

	// IsRevoked reports whether the credential has been revoked.
	IsRevoked(ctx context.Context, credential string) (bool, error)
}

// MemoryRevocations is the in-process default, suitable for a single node.
type MemoryRevocations struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewMemoryRevocations creates an empty in-memory revocation list.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{revoked: make(map[string]time.Time)}
}

// Revoke marks a credential invalid for ttl.
func (m *MemoryRevocations) Revoke(_ context.Context, credential string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[hashCredential(credential)] = time.Now().Add(ttl)
	return nil
}

// IsRevoked reports whether the credential has been revoked. Expired
// entries are dropped on read.
func (m *MemoryRevocations) IsRevoked(_ context.Context, credential string) (bool, error) {
	key := hashCredential(credential)

	m.mu.RLock()
	expiry, ok := m.revoked[key]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		m.mu.Lock()
		delete(m.revoked, key)
		m.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// hashCredential keeps raw tokens out of memory dumps and Redis keys.
func hashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
