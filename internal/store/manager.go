package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State tracks the lifecycle of a store path:
// Unopened -> Opening -> {Open, Unavailable}. Both Open and Unavailable are
// terminal until an explicit Reset.
type State int

const (
	StateUnopened State = iota
	StateOpening
	StateOpen
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Manager owns the lifecycle of store handles: one handle per path,
// retry-with-backoff on lock contention, and table bootstrap on open.
type Manager struct {
	// MaxRetries bounds the open attempts on lock contention.
	MaxRetries int
	// BackoffBase is the first retry delay; each retry doubles it.
	BackoffBase time.Duration
	// Sleep is replaceable in tests.
	Sleep func(time.Duration)
	// FlushBytes is the memtable flush threshold handed to new stores.
	FlushBytes int64

	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*managed
}

type managed struct {
	state State
	store *Store
}

// NewManager creates a connection manager with the default retry policy.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		MaxRetries:  3,
		BackoffBase: time.Second,
		Sleep:       time.Sleep,
		logger:      logger,
		entries:     make(map[string]*managed),
	}
}

// Acquire hands out the live handle for path, bootstrapping dataset.table on
// first open. It is idempotent: a second call with the same path returns the
// same handle without reopening. When the store cannot be opened after the
// retry budget, Acquire returns ErrUnavailable; callers degrade to
// console-only delivery instead of crashing, and the path stays unavailable
// until Reset.
func (m *Manager) Acquire(path, dataset, table string) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[path]; ok {
		switch e.state {
		case StateOpen:
			// Bootstrap is idempotent per table name.
			if _, err := e.store.Table(dataset, table); err != nil {
				m.logger.Error("table bootstrap failed", "path", path, "table", table, "error", err)
				return nil, fmt.Errorf("bootstrapping %s.%s: %w", dataset, table, ErrUnavailable)
			}
			return e.store, nil
		case StateUnavailable:
			return nil, ErrUnavailable
		}
	}

	m.entries[path] = &managed{state: StateOpening}
	st, err := m.openWithRetry(path)
	if err != nil {
		m.entries[path] = &managed{state: StateUnavailable}
		return nil, err
	}

	// Bootstrap the logical table once per successful open. A failure here
	// is reported and swallowed: the store counts as unavailable, it is
	// never fatal to the caller.
	if _, err := st.Table(dataset, table); err != nil {
		m.logger.Error("table bootstrap failed", "path", path, "table", table, "error", err)
		_ = st.Close()
		m.entries[path] = &managed{state: StateUnavailable}
		return nil, fmt.Errorf("bootstrapping %s.%s: %w", dataset, table, ErrUnavailable)
	}

	m.entries[path] = &managed{state: StateOpen, store: st}
	return st, nil
}

func (m *Manager) openWithRetry(path string) (*Store, error) {
	for attempt := 0; attempt < m.MaxRetries; attempt++ {
		st, err := openStore(path, false, m.FlushBytes, m.logger)
		if err == nil {
			if attempt > 0 {
				m.logger.Info("store opened after retry", "path", path, "attempt", attempt+1)
			}
			return st, nil
		}
		if !errors.Is(err, ErrLocked) {
			// Only lock contention is retryable.
			m.logger.Error("store open failed", "path", path, "error", err)
			return nil, fmt.Errorf("opening store: %w", ErrUnavailable)
		}
		if attempt < m.MaxRetries-1 {
			wait := m.BackoffBase << attempt
			m.logger.Warn("store locked, retrying",
				"path", path, "wait", wait, "attempt", attempt+1, "max_retries", m.MaxRetries)
			m.Sleep(wait)
		}
	}
	m.logger.Error("store still locked, degrading to console-only",
		"path", path, "attempts", m.MaxRetries)
	return nil, fmt.Errorf("store locked after %d attempts: %w", m.MaxRetries, ErrUnavailable)
}

// OpenReadOnly opens an independent read-only handle, bypassing the writer
// lock and the manager cache. The transfer path uses this to avoid
// contention with a concurrent writer.
func (m *Manager) OpenReadOnly(path string) (*Store, error) {
	return openStore(path, true, m.FlushBytes, m.logger)
}

// State reports the lifecycle state of a path.
func (m *Manager) State(path string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[path]; ok {
		return e.state
	}
	return StateUnopened
}

// Reset closes every open handle and forgets all states, so a fresh setup
// can retry paths that degraded to unavailable.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for path, e := range m.entries {
		if e.store != nil {
			if err := e.store.Close(); err != nil {
				m.logger.Warn("closing store", "path", path, "error", err)
			}
		}
	}
	m.entries = make(map[string]*managed)
}
