package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

// TableStats holds cumulative per-table counters that survive restarts.
// They back the inspection queries (total row count, level distribution).
type TableStats struct {
	TotalLogs   int64            `json:"total_logs"`
	TotalBytes  int64            `json:"total_bytes"`
	LevelCounts map[string]int64 `json:"level_counts"`
}

const statsFileName = ".stats"

// statsTracker persists TableStats in the table directory.
type statsTracker struct {
	dir   string
	mu    sync.RWMutex
	stats TableStats
}

func newStatsTracker(dir string) *statsTracker {
	t := &statsTracker{dir: dir}
	t.stats = loadTableStats(dir)
	return t
}

func loadTableStats(dir string) TableStats {
	stats := TableStats{LevelCounts: make(map[string]int64)}

	data, err := os.ReadFile(filepath.Join(dir, statsFileName))
	if err != nil {
		return stats
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		// Corrupted stats file, start over rather than fail the open.
		return TableStats{LevelCounts: make(map[string]int64)}
	}
	if stats.LevelCounts == nil {
		stats.LevelCounts = make(map[string]int64)
	}
	return stats
}

// Record accumulates counters for an appended batch and persists them.
func (t *statsTracker) Record(rows []model.Row) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range rows {
		t.stats.TotalLogs++
		t.stats.TotalBytes += int64(len(r.Message) + len(r.Context) + len(r.Action))
		if lvl, err := model.DecodeLevel(r.Level); err == nil {
			t.stats.LevelCounts[string(lvl)]++
		}
	}
	t.saveLocked()
}

// Snapshot returns a copy of the current counters.
func (t *statsTracker) Snapshot() TableStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := TableStats{
		TotalLogs:   t.stats.TotalLogs,
		TotalBytes:  t.stats.TotalBytes,
		LevelCounts: make(map[string]int64, len(t.stats.LevelCounts)),
	}
	for k, v := range t.stats.LevelCounts {
		out.LevelCounts[k] = v
	}
	return out
}

// saveLocked writes the stats file atomically (tmp + rename).
func (t *statsTracker) saveLocked() {
	data, err := json.MarshalIndent(t.stats, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(t.dir, statsFileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return
	}
	_ = os.Rename(tmpPath, path)
}
