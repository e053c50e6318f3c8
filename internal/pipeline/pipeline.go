// Package pipeline is the single write path from validated records to the
// embedded store, and the only component allowed to mutate it.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoanClaverol/dlt-logger/internal/config"
	"github.com/JoanClaverol/dlt-logger/internal/model"
	"github.com/JoanClaverol/dlt-logger/internal/store"
)

// loadsTable is the internal bookkeeping table recording one row per
// accepted batch. It carries the reserved prefix so transfer never ships it.
const loadsTable = store.InternalTablePrefix + "_loads"

// StorageError reports a failed write to the embedded store. The logger
// facade treats it as non-fatal: the caller's operation continues.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Pipeline writes record batches to the configured logical table. A pipeline
// whose store degraded to unavailable keeps accepting writes and fails each
// one with a StorageError wrapping store.ErrUnavailable.
type Pipeline struct {
	cfg    config.Config
	st     *store.Store // nil when the store is unavailable
	table  *store.Table
	logger *slog.Logger

	mu    sync.Mutex
	loads *store.Table
}

// Write appends all records to the logical table in one unit; a batch is
// never partially applied.
func (p *Pipeline) Write(records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	if p.st == nil {
		return &StorageError{Op: "write", Err: store.ErrUnavailable}
	}

	rows := make([]model.Row, len(records))
	for i, rec := range records {
		rows[i] = rec.Row()
	}
	if err := p.table.Append(rows); err != nil {
		return &StorageError{Op: "write", Err: err}
	}

	p.recordLoad(records)
	return nil
}

// recordLoad appends one bookkeeping row per accepted batch. Best effort:
// a bookkeeping failure never fails the write that produced it.
func (p *Pipeline) recordLoad(records []model.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loads == nil {
		t, err := p.st.Table(p.cfg.DatasetName, loadsTable)
		if err != nil {
			p.logger.Warn("opening loads table", "error", err)
			return
		}
		p.loads = t
	}

	entry, err := model.New(model.Draft{
		ID:          uuid.New().String(),
		ProjectName: p.cfg.ProjectName,
		ModuleName:  p.cfg.TableName,
		RunID:       records[0].RunID,
		Timestamp:   time.Now().UTC(),
		Level:       model.LevelInfo,
		Action:      "load",
		Message:     fmt.Sprintf("loaded %d rows into %s.%s", len(records), p.cfg.DatasetName, p.cfg.TableName),
		Context: map[string]any{
			"table":     p.cfg.TableName,
			"row_count": len(records),
		},
	})
	if err != nil {
		return
	}
	if err := p.loads.Append([]model.Row{entry.Row()}); err != nil {
		p.logger.Warn("recording load", "error", err)
	}
}

// Stats returns the cumulative counters of the logical table, for inspection
// queries such as the total row count.
func (p *Pipeline) Stats() (store.TableStats, error) {
	if p.st == nil {
		return store.TableStats{}, &StorageError{Op: "stats", Err: store.ErrUnavailable}
	}
	return p.table.Stats(), nil
}

// Flush forces buffered rows into a segment file.
func (p *Pipeline) Flush() error {
	if p.st == nil {
		return &StorageError{Op: "flush", Err: store.ErrUnavailable}
	}
	if err := p.table.Flush(); err != nil {
		return &StorageError{Op: "flush", Err: err}
	}
	return nil
}

// Available reports whether the pipeline has a live store handle.
func (p *Pipeline) Available() bool {
	return p.st != nil
}

// Manager owns the process-wide pipeline singleton. The pipeline binds the
// store path and dataset at creation, so reconfiguration must go through
// Reset to invalidate and rebind it.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	cfg     config.Config
	stores  *store.Manager
	current *Pipeline
}

// NewManager creates a pipeline manager bound to cfg.
func NewManager(cfg config.Config, stores *store.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, stores: stores, logger: logger}
}

// Get lazily constructs the pipeline bound to the current configuration and
// returns the existing instance on subsequent calls. When the store cannot
// be opened, the returned pipeline is degraded rather than nil: writes fail
// with a StorageError and the caller keeps console delivery.
func (m *Manager) Get() *Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return m.current
	}

	p := &Pipeline{cfg: m.cfg, logger: m.logger}
	st, err := m.stores.Acquire(m.cfg.StorePath, m.cfg.DatasetName, m.cfg.TableName)
	if err != nil {
		m.logger.Warn("store unavailable, console-only delivery", "path", m.cfg.StorePath, "error", err)
		m.current = p
		return p
	}
	table, err := st.Table(m.cfg.DatasetName, m.cfg.TableName)
	if err != nil {
		m.logger.Warn("table unavailable, console-only delivery", "table", m.cfg.TableName, "error", err)
		m.current = p
		return p
	}
	p.st = st
	p.table = table
	m.current = p
	return p
}

// Reset discards the singleton and rebinds the manager to a new
// configuration; the next Get builds a fresh pipeline against it.
func (m *Manager) Reset(cfg config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stores.Reset()
	m.cfg = cfg
	m.current = nil
}

// Close flushes and releases the store handles.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stores.Reset()
	m.current = nil
}
