// Package disk implements the default storage backend: a single JSON file on
// local disk, written atomically and cached between external modifications.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/internal/storage"
	"pkt.systems/guestbookd/internal/svcfields"
	"pkt.systems/pslog"
)

// Config controls the behaviour of the disk storage backend.
type Config struct {
	// Path is the location of the guestbook JSON file. Parent directories are
	// created on New.
	Path string
	// Logger receives backend diagnostics. Nil means no logging.
	Logger pslog.Logger
	// DisableWatch turns off filesystem watching; every Load then reads from
	// disk. Used on filesystems where fsnotify is unreliable (NFS).
	DisableWatch bool
}

// Store implements storage.Backend on a local JSON file. Loads are served
// from an in-process cache that is invalidated by fsnotify events, so
// external edits to the file are picked up without restarting.
type Store struct {
	path    string
	dir     string
	base    string
	logger  pslog.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	cached  []api.Entry
	valid   bool
	missing bool

	closeOnce sync.Once
	done      chan struct{}
}

// New opens (or initializes) the disk store at cfg.Path.
func New(cfg Config) (*Store, error) {
	path := filepath.Clean(cfg.Path)
	if path == "" || path == "." {
		return nil, fmt.Errorf("disk: path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk: create data dir: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		// Seed an empty document so the file exists from the first start,
		// like a fresh deployment would expect to find.
		payload, err := storage.EncodeDocument(nil)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return nil, fmt.Errorf("disk: seed data file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("disk: stat %s: %w", path, err)
	}
	s := &Store{
		path:   path,
		dir:    dir,
		base:   filepath.Base(path),
		logger: svcfields.WithSubsystem(logger, "store.disk"),
		done:   make(chan struct{}),
	}
	if !cfg.DisableWatch {
		watcher, err := fsnotify.NewWatcher()
		if err == nil {
			err = watcher.Add(dir)
			if err != nil {
				_ = watcher.Close()
			}
		}
		if err != nil {
			// Degrade to reading the file on every Load instead of failing
			// startup; some filesystems cannot be watched.
			s.logger.Warn("disk.watch.unavailable", "error", err)
		} else {
			s.watcher = watcher
			go s.watch()
		}
	}
	return s, nil
}

// Path returns the resolved file path backing the store.
func (s *Store) Path() string { return s.path }

// Load returns the persisted entries, reading from disk only when the cache
// has been invalidated.
func (s *Store) Load(ctx context.Context) ([]api.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.valid {
		if s.missing {
			s.mu.RUnlock()
			return nil, storage.ErrNotFound
		}
		entries := storage.CloneEntries(s.cached)
		s.mu.RUnlock()
		return entries, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid {
		if s.missing {
			return nil, storage.ErrNotFound
		}
		return storage.CloneEntries(s.cached), nil
	}
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if s.watcher != nil {
				s.cached = nil
				s.missing = true
				s.valid = true
			}
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("disk: read %s: %w", s.base, err)
	}
	entries, err := storage.DecodeDocument(payload)
	if err != nil {
		// Corrupt documents are not cached so a manual repair is picked up
		// on the next load.
		return nil, err
	}
	// Without a watcher there is nothing to invalidate the cache, so every
	// Load reads from disk.
	if s.watcher != nil {
		s.cached = entries
		s.missing = false
		s.valid = true
	}
	s.logger.Trace("disk.load.read", "path", s.path, "entries", len(entries))
	return storage.CloneEntries(entries), nil
}

// Save writes entries via a temp file rename so readers never observe a
// partially written document.
func (s *Store) Save(ctx context.Context, entries []api.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := storage.EncodeDocument(entries)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, s.base+".tmp-*")
	if err != nil {
		return fmt.Errorf("disk: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(payload); err != nil {
		cleanup()
		return fmt.Errorf("disk: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("disk: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("disk: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("disk: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("disk: rename into place: %w", err)
	}
	if s.watcher != nil {
		s.cached = storage.CloneEntries(entries)
		s.missing = false
		s.valid = true
	}
	s.logger.Trace("disk.save.done", "path", s.path, "entries", len(entries), "bytes", len(payload))
	return nil
}

// Close stops the filesystem watcher.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

// watch invalidates the cache whenever the backing file changes on disk. The
// own Save path also triggers an event; invalidating then is harmless since
// the next Load re-reads a consistent document.
func (s *Store) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != s.base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			s.mu.Lock()
			s.valid = false
			s.mu.Unlock()
			s.logger.Trace("disk.watch.invalidated", "op", event.Op.String())
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("disk.watch.error", "error", err)
		}
	}
}
