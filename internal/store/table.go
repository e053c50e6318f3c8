package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

// Table is one logical table inside the store: a WAL for durability, a
// memtable for rows not yet in a segment, and zstd columnar segment files.
type Table struct {
	dir        string
	dataset    string
	name       string
	readOnly   bool
	flushBytes int64
	codec      *segmentCodec
	wal        *WAL
	mem        *MemTable
	stats      *statsTracker
	logger     *slog.Logger

	// mu serializes appends and flushes; the store has a single writer.
	mu sync.Mutex
}

const walFileName = "wal.log"

// defaultFlushBytes bounds memtable growth when no threshold is configured.
const defaultFlushBytes = 4 * 1024 * 1024

func openTable(dir, dataset, name string, codec *segmentCodec, flushBytes int64, readOnly bool, logger *slog.Logger) (*Table, error) {
	if flushBytes <= 0 {
		flushBytes = defaultFlushBytes
	}
	t := &Table{
		dir:        dir,
		dataset:    dataset,
		name:       name,
		readOnly:   readOnly,
		flushBytes: flushBytes,
		codec:      codec,
		mem:        NewMemTable(),
		logger:     logger,
	}

	walPath := filepath.Join(dir, walFileName)
	if readOnly {
		rows, err := replayReadOnly(walPath)
		if err != nil {
			return nil, err
		}
		t.mem.Append(rows...)
		t.stats = newStatsTracker(dir)
		return t, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	wal, err := OpenWAL(walPath)
	if err != nil {
		return nil, err
	}
	t.wal = wal
	t.stats = newStatsTracker(dir)

	// Crash recovery: rows that reached the WAL but not a segment.
	rows, err := wal.Replay()
	if err != nil {
		logger.Warn("wal replay incomplete", "table", name, "error", err)
	}
	if len(rows) > 0 {
		logger.Info("recovered rows from wal", "table", name, "rows", len(rows))
		t.mem.Append(rows...)
	}
	return t, nil
}

// Append writes all rows as one unit: the batch is durable in the WAL before
// it is visible in the memtable, and a batch is never partially applied.
func (t *Table) Append(rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if t.readOnly {
		return ErrReadOnly
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.wal.WriteBatch(rows); err != nil {
		return fmt.Errorf("appending to %s.%s: %w", t.dataset, t.name, err)
	}
	t.mem.Append(rows...)
	t.stats.Record(rows)

	if t.mem.SizeBytes() >= t.flushBytes {
		if err := t.flushLocked(); err != nil {
			return fmt.Errorf("flushing %s.%s: %w", t.dataset, t.name, err)
		}
	}
	return nil
}

// Flush writes the memtable to a segment file and truncates the WAL.
func (t *Table) Flush() error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

func (t *Table) flushLocked() error {
	if t.mem.Len() == 0 {
		return nil
	}

	seq := len(t.segmentFiles())
	filename := fmt.Sprintf("seg_%020d_%020d_%04d.seg", t.mem.MinTimestamp(), t.mem.MaxTimestamp(), seq)
	if err := t.codec.WriteSegment(filepath.Join(t.dir, filename), t.mem.Rows()); err != nil {
		return err
	}
	if err := t.wal.Reset(); err != nil {
		return err
	}
	t.mem.Reset()
	return nil
}

// Scan streams every row of the table in batches of at most batchSize,
// segment files first (oldest flush first), then the unflushed memtable rows.
// One segment is decoded at a time; the full table is never materialized.
// A non-nil error from fn aborts the scan.
func (t *Table) Scan(batchSize int, fn func(batch []model.Row) error) error {
	if batchSize <= 0 {
		batchSize = 1
	}

	batch := make([]model.Row, 0, batchSize)
	emit := func(rows []model.Row) error {
		for _, r := range rows {
			batch = append(batch, r)
			if len(batch) == batchSize {
				if err := fn(batch); err != nil {
					return err
				}
				batch = make([]model.Row, 0, batchSize)
			}
		}
		return nil
	}

	for _, name := range t.segmentFiles() {
		rows, err := t.codec.ReadSegment(filepath.Join(t.dir, name))
		if err != nil {
			return fmt.Errorf("reading segment %s: %w", name, err)
		}
		if err := emit(rows); err != nil {
			return err
		}
	}
	if err := emit(t.mem.Rows()); err != nil {
		return err
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Stats returns the cumulative table counters.
func (t *Table) Stats() TableStats {
	return t.stats.Snapshot()
}

func (t *Table) segmentFiles() []string {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".seg") {
			continue
		}
		names = append(names, e.Name())
	}
	// Zero-padded timestamps and sequence numbers make the lexical order
	// the flush order.
	sort.Strings(names)
	return names
}

// Close flushes pending rows and releases the WAL handle.
func (t *Table) Close() error {
	if t.readOnly {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.flushLocked(); err != nil {
		return err
	}
	return t.wal.Close()
}
