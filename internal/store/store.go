// Package store implements the embedded analytical store: a file-backed,
// single-writer columnar database used as the durable sink for log records.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

const (
	lockFileName    = "LOCK"
	catalogFileName = "catalog.json"
)

// Store is one live handle to the store directory. Write handles hold the
// exclusive lock; read-only handles (used by the transfer path) do not.
type Store struct {
	path       string
	readOnly   bool
	flushBytes int64
	catalog    *Catalog
	codec      *segmentCodec
	lock       *os.File // nil for read-only handles
	logger     *slog.Logger

	mu     sync.Mutex
	tables map[string]*Table
}

func openStore(path string, readOnly bool, flushBytes int64, logger *slog.Logger) (*Store, error) {
	var lock *os.File
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("opening store read-only: %w", err)
		}
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		l, err := acquireLock(path)
		if err != nil {
			return nil, err
		}
		lock = l
	}

	codec, err := newSegmentCodec()
	if err != nil {
		closeLock(lock)
		return nil, err
	}

	catalog := NewCatalog(filepath.Join(path, catalogFileName))
	if err := catalog.Load(); err != nil {
		closeLock(lock)
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	return &Store{
		path:       path,
		readOnly:   readOnly,
		flushBytes: flushBytes,
		catalog:    catalog,
		codec:      codec,
		lock:       lock,
		logger:     logger,
		tables:     make(map[string]*Table),
	}, nil
}

// Table opens (and for write handles, bootstraps) a logical table.
func (s *Store) Table(dataset, table string) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dataset + "/" + table
	if t, ok := s.tables[key]; ok {
		return t, nil
	}

	dir := filepath.Join(s.path, dataset, table)
	if s.readOnly {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("table %s.%s: %w", dataset, table, err)
		}
	} else if err := s.catalog.EnsureTable(dataset, table); err != nil {
		return nil, fmt.Errorf("registering table %s.%s: %w", dataset, table, err)
	}

	t, err := openTable(dir, dataset, table, s.codec, s.flushBytes, s.readOnly, s.logger)
	if err != nil {
		return nil, fmt.Errorf("opening table %s.%s: %w", dataset, table, err)
	}
	s.tables[key] = t
	return t, nil
}

// Tables lists the logical tables registered under a dataset, including the
// internal bookkeeping ones.
func (s *Store) Tables(dataset string) []string {
	return s.catalog.Tables(dataset)
}

// Path returns the store directory.
func (s *Store) Path() string {
	return s.path
}

// ReadOnly reports whether this handle can write.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Close flushes and closes every open table and releases the writer lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, t := range s.tables {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.tables = make(map[string]*Table)
	closeLock(s.lock)
	s.lock = nil
	return firstErr
}

// acquireLock takes the single-writer lock for a store directory via an
// advisory flock on the LOCK file. The kernel releases the lock when the
// holding process exits, so a crash never leaves the store locked. A lock
// held by a live handle classifies as ErrLocked, the only retryable class.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(path, lockFileName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("acquiring %s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("acquiring %s: %w", path, err)
	}
	// The pid is recorded for diagnostics only; the flock is authoritative.
	_ = f.Truncate(0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

func closeLock(f *os.File) {
	if f == nil {
		return
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}
