package disk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/internal/storage"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "guestbook.json")
	}
	store, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSeedsEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guestbook.json")
	store := newTestStore(t, Config{Path: path, DisableWatch: true})
	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read seeded file: %v", err)
	}
	if strings.TrimSpace(string(payload)) != "[]" {
		t.Fatalf("seeded document = %q", payload)
	}
	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("fresh store has %d entries", len(entries))
	}
}

func TestNewKeepsExistingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guestbook.json")
	existing, err := storage.EncodeDocument([]api.Entry{{ID: "a", Name: "Ada", Message: "hi"}})
	if err != nil {
		t.Fatalf("EncodeDocument: %v", err)
	}
	if err := os.WriteFile(path, existing, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	store := newTestStore(t, Config{Path: path, DisableWatch: true})
	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "a" {
		t.Fatalf("existing document not preserved: %+v", entries)
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guestbook.json")
	store := newTestStore(t, Config{Path: path, DisableWatch: true})
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Load err = %v, want ErrNotFound", err)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, Config{DisableWatch: true})
	ctx := context.Background()
	in := []api.Entry{
		{ID: "a", Name: "Ada", Message: "hi\nthere", Stars: 4, TS: 100},
		{ID: "b", Name: "Grace", Message: "beans", Stars: 5, TS: 200},
	}
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Fatalf("Load = %+v", out)
	}
}

func TestSaveWritesIndentedDocument(t *testing.T) {
	store := newTestStore(t, Config{DisableWatch: true})
	if err := store.Save(context.Background(), []api.Entry{{ID: "a", Name: "Ada", Message: "hi"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	payload, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	text := string(payload)
	if !strings.Contains(text, "  \"id\"") || !strings.HasSuffix(text, "\n") {
		t.Errorf("unexpected document shape:\n%s", text)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, Config{Path: filepath.Join(dir, "guestbook.json"), DisableWatch: true})
	for i := 0; i < 3; i++ {
		if err := store.Save(context.Background(), []api.Entry{{ID: "a", Name: "Ada", Message: "hi"}}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	names, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(names) != 1 || names[0].Name() != "guestbook.json" {
		var leftover []string
		for _, n := range names {
			leftover = append(leftover, n.Name())
		}
		t.Fatalf("unexpected directory contents: %v", leftover)
	}
}

func TestLoadCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guestbook.json")
	if err := os.WriteFile(path, []byte("{definitely not json"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	store := newTestStore(t, Config{Path: path, DisableWatch: true})
	if _, err := store.Load(context.Background()); !errors.Is(err, storage.ErrCorrupt) {
		t.Fatalf("Load err = %v, want ErrCorrupt", err)
	}
	// A repaired file is picked up because corrupt loads are never cached.
	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		t.Fatalf("repair file: %v", err)
	}
	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load after repair: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries", len(entries))
	}
}

func TestWatchPicksUpExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guestbook.json")
	store := newTestStore(t, Config{Path: path})
	ctx := context.Background()

	if err := store.Save(ctx, []api.Entry{{ID: "a", Name: "Ada", Message: "hi"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	external, err := storage.EncodeDocument([]api.Entry{
		{ID: "a", Name: "Ada", Message: "hi"},
		{ID: "b", Name: "Grace", Message: "beans"},
	})
	if err != nil {
		t.Fatalf("EncodeDocument: %v", err)
	}
	if err := os.WriteFile(path, external, 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		entries, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(entries) == 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("external edit not observed, still %d entries", len(entries))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestNewCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "guestbook.json")
	store := newTestStore(t, Config{Path: path, DisableWatch: true})
	if err := store.Save(context.Background(), nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestDisableWatchReadsEveryLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guestbook.json")
	store := newTestStore(t, Config{Path: path, DisableWatch: true})
	ctx := context.Background()

	if _, err := store.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	external, err := storage.EncodeDocument([]api.Entry{{ID: "x", Name: "Ada", Message: "hi"}})
	if err != nil {
		t.Fatalf("EncodeDocument: %v", err)
	}
	if err := os.WriteFile(path, external, 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}
	// No watcher means no cache: the edit is visible on the very next Load.
	entries, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load after edit: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "x" {
		t.Fatalf("external edit not observed: %+v", entries)
	}
}
