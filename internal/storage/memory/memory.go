// Package memory implements an in-process storage backend used by tests and
// the mem:// store scheme.
package memory

import (
	"context"
	"sync"

	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/internal/storage"
)

// Store is an in-memory storage.Backend. The zero value is not usable; use New.
type Store struct {
	mu      sync.RWMutex
	entries []api.Entry
	written bool
	saves   int
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Load returns a copy of the stored entries, or storage.ErrNotFound before
// the first save.
func (s *Store) Load(ctx context.Context) ([]api.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.written {
		return nil, storage.ErrNotFound
	}
	return storage.CloneEntries(s.entries), nil
}

// Save replaces the stored entries.
func (s *Store) Save(ctx context.Context, entries []api.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = storage.CloneEntries(entries)
	s.written = true
	s.saves++
	return nil
}

// Close satisfies storage.Backend.
func (s *Store) Close() error { return nil }

// Seed installs entries directly, marking the store as written. Test helper.
func (s *Store) Seed(entries []api.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = storage.CloneEntries(entries)
	s.written = true
}

// SaveCount reports how many times Save has been called. Test helper.
func (s *Store) SaveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
