package guestbook

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/internal/clock"
	"pkt.systems/guestbookd/internal/storage"
	"pkt.systems/guestbookd/internal/svcfields"
	"pkt.systems/pslog"
)

// Service owns the guestbook document. All mutations run under a single
// mutex so concurrent requests never lose each other's writes through
// read-modify-write races against the backend.
type Service struct {
	store  storage.Backend
	clock  clock.Clock
	logger pslog.Logger

	mu sync.Mutex
}

// NewService wires a service over the supplied backend. A nil clk defaults
// to the real clock and a nil logger discards diagnostics.
func NewService(store storage.Backend, clk clock.Clock, logger pslog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Service{
		store:  store,
		clock:  clk,
		logger: svcfields.WithSubsystem(logger, "guestbook"),
	}
}

// load reads the full entry sequence, treating a missing or undecodable
// document as an empty guestbook.
func (s *Service) load(ctx context.Context) ([]api.Entry, error) {
	entries, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []api.Entry{}, nil
		}
		if errors.Is(err, storage.ErrCorrupt) {
			s.logger.Warn("guestbook.load.corrupt", "error", err)
			return []api.Entry{}, nil
		}
		return nil, err
	}
	return entries, nil
}

// List returns every entry in storage order.
func (s *Service) List(ctx context.Context) ([]api.Entry, error) {
	return s.load(ctx)
}

// Create validates and appends a new entry, returning its canonical form.
func (s *Service) Create(ctx context.Context, req api.CreateRequest) (api.Entry, error) {
	now := s.clock.Now().UnixMilli()
	entry, err := NewEntry(req, now)
	if err != nil {
		return api.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load(ctx)
	if err != nil {
		return api.Entry{}, err
	}
	entries = append(entries, entry)
	if err := s.store.Save(ctx, entries); err != nil {
		return api.Entry{}, err
	}
	s.logger.Debug("guestbook.create", "id", entry.ID, "stars", entry.Stars, "total", len(entries))
	return entry, nil
}

// Clear removes every entry.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Save(ctx, []api.Entry{}); err != nil {
		return err
	}
	s.logger.Info("guestbook.cleared")
	return nil
}

// Import replaces the guestbook with the sanitized items, dropping any that
// fail validation. It returns the persisted entries.
func (s *Service) Import(ctx context.Context, items []api.ImportItem) ([]api.Entry, error) {
	now := s.clock.Now().UnixMilli()
	cleaned := make([]api.Entry, 0, len(items))
	for _, item := range items {
		entry, ok := SanitizeImported(item, now)
		if !ok {
			continue
		}
		cleaned = append(cleaned, entry)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Save(ctx, cleaned); err != nil {
		return nil, err
	}
	dropped := len(items) - len(cleaned)
	s.logger.Info("guestbook.imported", "accepted", len(cleaned), "dropped", dropped)
	return cleaned, nil
}
