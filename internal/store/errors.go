package store

import "errors"

// Sentinel errors surfaced by store operations.
var (
	// ErrLockTimeout means a collection lock was not acquired within the
	// configured bound. Callers may retry.
	ErrLockTimeout = errors.New("collection lock timed out")
	// ErrCorrupted means a collection failed to parse or validate. The
	// store refuses writes to it; restore from backups/ to recover.
	ErrCorrupted = errors.New("collection corrupted, restore from backups/")
)
