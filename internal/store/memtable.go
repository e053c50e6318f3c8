package store

import (
	"sync"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

// MemTable buffers rows that are durable in the WAL but not yet flushed to a
// segment file.
type MemTable struct {
	mu        sync.RWMutex
	rows      []model.Row
	sizeBytes int64
}

func NewMemTable() *MemTable {
	return &MemTable{rows: make([]model.Row, 0, 1024)}
}

// Append adds rows to the buffer.
func (mt *MemTable) Append(rows ...model.Row) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	for _, r := range rows {
		mt.rows = append(mt.rows, r)
		// Size estimate: variable-width fields plus fixed-width columns.
		mt.sizeBytes += int64(len(r.ID) + len(r.ProjectName) + len(r.ModuleName) +
			len(r.FunctionName) + len(r.RunID) + len(r.Action) + len(r.Message) +
			len(r.RequestMethod) + len(r.Context) + 8 + 1 + 1 + 8 + 8)
	}
}

// Len returns the number of buffered rows.
func (mt *MemTable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return len(mt.rows)
}

// SizeBytes returns the estimated memory usage.
func (mt *MemTable) SizeBytes() int64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.sizeBytes
}

// Rows returns a copy of the buffered rows.
func (mt *MemTable) Rows() []model.Row {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	out := make([]model.Row, len(mt.rows))
	copy(out, mt.rows)
	return out
}

// Reset clears the buffer after a flush.
func (mt *MemTable) Reset() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.rows = mt.rows[:0]
	mt.sizeBytes = 0
}

// MinTimestamp returns the smallest buffered timestamp, or 0 when empty.
func (mt *MemTable) MinTimestamp() int64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	if len(mt.rows) == 0 {
		return 0
	}
	min := mt.rows[0].Timestamp
	for _, r := range mt.rows[1:] {
		if r.Timestamp < min {
			min = r.Timestamp
		}
	}
	return min
}

// MaxTimestamp returns the largest buffered timestamp, or 0 when empty.
func (mt *MemTable) MaxTimestamp() int64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	if len(mt.rows) == 0 {
		return 0
	}
	max := mt.rows[0].Timestamp
	for _, r := range mt.rows[1:] {
		if r.Timestamp > max {
			max = r.Timestamp
		}
	}
	return max
}
