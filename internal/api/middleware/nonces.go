package middleware

import (
	"context"
	"sync"
	"time"
)

// MemoryNonceStore keeps used nonces in process memory. It backs signature
// auth when no Redis is configured and is only safe for a single instance.
type MemoryNonceStore struct {
	mu   sync.Mutex
	used map[string]time.Time // key -> expiry
	now  func() time.Time
}

// NewMemoryNonceStore creates an empty in-memory nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		used: make(map[string]time.Time),
		now:  time.Now,
	}
}

// ClaimNonce records the nonce for ttl unless an unexpired claim exists.
// Expired entries are swept on every claim.
func (s *MemoryNonceStore) ClaimNonce(_ context.Context, participantID, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, expiry := range s.used {
		if !now.Before(expiry) {
			delete(s.used, key)
		}
	}

	key := participantID + ":" + nonce
	if _, ok := s.used[key]; ok {
		return false, nil
	}
	s.used[key] = now.Add(ttl)
	return true, nil
}
