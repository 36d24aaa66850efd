// Package memory implements an in-memory cache store, for tests and
// short-lived single-process runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/genoflow/genoflow/pkg/domain"
)

// Store keeps entries in a map guarded by a mutex. First writer wins.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*domain.CacheEntry
}

// New creates an in-memory cache store.
func New() *Store {
	return &Store{entries: make(map[string]*domain.CacheEntry)}
}

// Get retrieves an entry, nil when absent.
func (s *Store) Get(ctx context.Context, fingerprint string) (*domain.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	cp := *entry
	cp.Outputs = append([]domain.Artifact(nil), entry.Outputs...)
	return &cp, nil
}

// Put stores an entry unless one already exists for the fingerprint.
func (s *Store) Put(ctx context.Context, entry *domain.CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.Fingerprint]; exists {
		return nil
	}
	cp := *entry
	cp.Outputs = append([]domain.Artifact(nil), entry.Outputs...)
	s.entries[entry.Fingerprint] = &cp
	return nil
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, fingerprint)
	return nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
