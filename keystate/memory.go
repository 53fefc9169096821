/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package keystate

import (
	"context"
	"sync"

	"github.com/acronis/go-ratekeeper/ratelimit"
)

// MemoryStore is an in-process Store implementation.
// Suitable for tests and single-node deployments; state does not survive restarts.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string]ratelimit.Log
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string]ratelimit.Log)}
}

// Get loads the admission log of the key.
func (s *MemoryStore) Get(_ context.Context, key string) (ratelimit.Log, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[key]
	if !ok {
		return nil, false, nil
	}
	// Copy so that the caller cannot mutate the stored value.
	return append(ratelimit.Log(nil), l...), true, nil
}

// Put persists the admission log of the key.
func (s *MemoryStore) Put(_ context.Context, key string, log ratelimit.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[key] = append(ratelimit.Log(nil), log...)
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}
