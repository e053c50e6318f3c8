package store

import "errors"

var (
	// ErrLocked classifies an open failure as lock contention, which is the
	// only failure class the connection manager retries.
	ErrLocked = errors.New("store is locked by another writer")

	// ErrUnavailable is the terminal degraded state: the store could not be
	// opened and callers must fall back to console-only delivery.
	ErrUnavailable = errors.New("store unavailable")

	// ErrReadOnly is returned for write attempts on a read-only handle.
	ErrReadOnly = errors.New("store opened read-only")
)
