// Package storage defines the persistence contract for the guestbook
// document and shared helpers used by the concrete backends.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pkt.systems/guestbookd/api"
)

// ContentTypeJSON is the content type used for the persisted document.
const ContentTypeJSON = "application/json"

var (
	// ErrNotFound indicates the guestbook document does not exist yet.
	ErrNotFound = errors.New("storage: not found")
	// ErrCorrupt indicates the persisted document could not be decoded.
	// Callers treat the store as empty and overwrite it on the next save.
	ErrCorrupt = errors.New("storage: corrupt document")
)

// Backend persists the guestbook as a single JSON document holding the full
// entry sequence. Save replaces the whole document; callers serialize
// read-modify-write cycles.
type Backend interface {
	// Load returns the persisted entries. It returns ErrNotFound when the
	// document has never been written and an error wrapping ErrCorrupt when
	// the document exists but cannot be decoded.
	Load(ctx context.Context) ([]api.Entry, error)
	// Save atomically replaces the persisted document with entries.
	Save(ctx context.Context, entries []api.Entry) error
	// Close releases backend resources. Safe to call more than once.
	Close() error
}

// EncodeDocument renders entries as the canonical two-space indented JSON
// array written by every backend.
func EncodeDocument(entries []api.Entry) ([]byte, error) {
	if entries == nil {
		entries = []api.Entry{}
	}
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("storage: encode document: %w", err)
	}
	return append(payload, '\n'), nil
}

// DecodeDocument parses a persisted document. Undecodable payloads and
// payloads whose top-level value is not an array yield ErrCorrupt.
func DecodeDocument(payload []byte) ([]api.Entry, error) {
	var entries []api.Entry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if entries == nil {
		entries = []api.Entry{}
	}
	return entries, nil
}

// CloneEntries returns a defensive copy so callers cannot alias backend state.
func CloneEntries(entries []api.Entry) []api.Entry {
	out := make([]api.Entry, len(entries))
	copy(out, entries)
	return out
}
