// Package api defines the wire types shared by the guestbookd server, the
// client SDK, and the CLI.
package api

// Entry is one guestbook submission as stored and served.
type Entry struct {
	// ID is the server-assigned opaque identifier, stable for the entry's lifetime.
	ID string `json:"id"`
	// Name is the submitter's display name. Attacker-controlled; escape on render.
	Name string `json:"name"`
	// Message is the submission body, trimmed, LF-normalized, 2..2000 characters.
	Message string `json:"message"`
	// Rule is an optional free-text favourite tag; may be empty.
	Rule string `json:"rule"`
	// Stars is the rating, clamped to 1..5 (5 when absent or unparseable).
	Stars int `json:"stars"`
	// TS is the server-assigned creation time in milliseconds since epoch and
	// the sole sort key for display.
	TS int64 `json:"ts"`
}

// CreateRequest models the JSON payload for POST /api/guestbook.
type CreateRequest struct {
	// Name is the display name; required after trimming.
	Name string `json:"name"`
	// Message is the submission body; 2..2000 characters after trimming.
	Message string `json:"message"`
	// Rule is the optional favourite tag.
	Rule string `json:"rule"`
	// Stars is the rating. Any JSON scalar is accepted and normalized server-side.
	Stars any `json:"stars"`
}

// EntriesResponse wraps the full entry sequence for GET and import responses.
type EntriesResponse struct {
	Entries []Entry `json:"entries"`
}

// EntryResponse wraps the canonical entry returned by a successful create.
type EntryResponse struct {
	Entry Entry `json:"entry"`
}

// ImportRequest models POST /api/guestbook/import. Items are raw entry-like
// objects; each is revalidated server-side and invalid items are dropped.
type ImportRequest struct {
	Entries []ImportItem `json:"entries"`
}

// ImportItem is one raw item of a bulk import. Every field is optional and
// loosely typed on the wire; the server coerces, trims, and clamps each item
// and drops the ones that fail validation instead of rejecting the batch.
type ImportItem struct {
	ID      any `json:"id"`
	Name    any `json:"name"`
	Message any `json:"message"`
	Rule    any `json:"rule"`
	Stars   any `json:"stars"`
	TS      any `json:"ts"`
}

// OKResponse acknowledges destructive operations.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the canonical error envelope for API failures.
type ErrorResponse struct {
	// Error is the human-readable failure message, surfaced verbatim by clients.
	Error string `json:"error"`
}
