package store

import "errors"

// Common store errors.
var (
	// ErrNotFound is returned when a document or registry entry is missing.
	ErrNotFound = errors.New("document not found")
	// ErrCorrupt is returned when a document fails to parse; recovery is
	// the caller's decision.
	ErrCorrupt = errors.New("document corrupt")
)
