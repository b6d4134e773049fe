// Package replay remembers which payload nonces a verifier has already
// accepted.
package replay

import (
	"context"
	"errors"
	"sync"
	"time"
)

type MemoryNonceStoreConfig struct {
	Now     func() time.Time
	MaxKeys int
}

// MemoryNonceStore is a single-process nonce set with per-key expiry.
type MemoryNonceStore struct {
	mu      sync.Mutex
	now     func() time.Time
	seen    map[string]time.Time
	maxKeys int
}

func NewMemoryNonceStore(cfg MemoryNonceStoreConfig) *MemoryNonceStore {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 100000
	}
	return &MemoryNonceStore{
		now:     cfg.Now,
		seen:    make(map[string]time.Time),
		maxKeys: cfg.MaxKeys,
	}
}

// Claim records key and reports true if it was not already held.
func (s *MemoryNonceStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("nonce key is required")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expires, ok := s.seen[key]; ok && now.Before(expires) {
		return false, nil
	}
	if len(s.seen) >= s.maxKeys {
		s.gc(now)
	}
	if len(s.seen) >= s.maxKeys {
		return false, errors.New("nonce store capacity exceeded")
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryNonceStore) gc(now time.Time) {
	for key, expires := range s.seen {
		if !now.Before(expires) {
			delete(s.seen, key)
		}
	}
}

// Release forgets key so the nonce can be claimed again.
func (s *MemoryNonceStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
	return nil
}
