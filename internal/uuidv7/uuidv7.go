// Package uuidv7 generates time-ordered identifiers for guestbook entries.
// Version 7 UUIDs sort by creation time, which keeps freshly signed entries
// clustered at the tail of the stored document.
package uuidv7

import "github.com/google/uuid"

// New generates a version 7 UUID. Generation only fails when the OS random
// source is unusable, which is not a recoverable condition, so it panics.
func New() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return id
}

// NewString returns New in canonical string form.
func NewString() string {
	return New().String()
}
