package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

func makeRows(t *testing.T, n int, level model.Level) []model.Row {
	return makeRowsAt(t, n, level, time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC))
}

func makeRowsAt(t *testing.T, n int, level model.Level, base time.Time) []model.Row {
	t.Helper()
	rows := make([]model.Row, 0, n)
	for i := 0; i < n; i++ {
		rec, err := model.New(model.Draft{
			ProjectName: "store-test",
			ModuleName:  "worker",
			RunID:       "run-1",
			Level:       level,
			Action:      "process",
			Message:     fmt.Sprintf("row %d", i),
			Timestamp:   base.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("building record: %v", err)
		}
		rows = append(rows, rec.Row())
	}
	return rows
}

func openTestTable(t *testing.T, dir string) (*Store, *Table) {
	t.Helper()
	st, err := openStore(dir, false, 0, testLogger())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	tbl, err := st.Table("ds", "logs")
	if err != nil {
		t.Fatalf("opening table: %v", err)
	}
	return st, tbl
}

func TestAppendScanRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app.db")
	st, tbl := openTestTable(t, dir)
	defer st.Close()

	rows := makeRows(t, 100, model.LevelInfo)
	if err := tbl.Append(rows); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var got []model.Row
	err := tbl.Scan(37, func(batch []model.Row) error {
		got = append(got, batch...)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !reflect.DeepEqual(rows, got) {
		t.Fatalf("scan returned different rows: %d vs %d", len(got), len(rows))
	}
}

func TestScanAcrossSegmentsAndMemtable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app.db")
	st, tbl := openTestTable(t, dir)
	defer st.Close()

	base := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	first := makeRowsAt(t, 60, model.LevelInfo, base)
	if err := tbl.Append(first); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Flush(); err != nil {
		t.Fatal(err)
	}
	second := makeRowsAt(t, 40, model.LevelWarning, base.Add(time.Hour))
	if err := tbl.Append(second); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Flush(); err != nil {
		t.Fatal(err)
	}
	third := makeRowsAt(t, 25, model.LevelError, base.Add(2*time.Hour))
	if err := tbl.Append(third); err != nil {
		t.Fatal(err)
	}

	// 60 + 40 flushed into two segments, 25 still in the memtable.
	var sizes []int
	var total int
	err := tbl.Scan(50, func(batch []model.Row) error {
		sizes = append(sizes, len(batch))
		total += len(batch)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if total != 125 {
		t.Errorf("expected 125 rows, got %d", total)
	}
	// Batches fill across segment boundaries; only the last may be short.
	want := []int{50, 50, 25}
	if !reflect.DeepEqual(sizes, want) {
		t.Errorf("batch sizes: got %v, want %v", sizes, want)
	}
}

func TestScanAbortsOnCallbackError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app.db")
	st, tbl := openTestTable(t, dir)
	defer st.Close()

	if err := tbl.Append(makeRows(t, 30, model.LevelInfo)); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("downstream failed")
	calls := 0
	err := tbl.Scan(10, func([]model.Row) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("scan should stop after the first error, got %d calls", calls)
	}
}

func TestSegmentFileRoundTrip(t *testing.T) {
	codec, err := newSegmentCodec()
	if err != nil {
		t.Fatal(err)
	}

	rows := makeRows(t, 500, model.LevelDebug)
	// Exercise the sentinel and optional paths too.
	success := true
	status := int64(503)
	rec, err := model.New(model.Draft{
		ProjectName: "store-test",
		RunID:       "run-1",
		Level:       model.LevelCritical,
		Success:     &success,
		StatusCode:  &status,
		Context:     map[string]any{"attempt": 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	rows = append(rows, rec.Row())

	path := filepath.Join(t.TempDir(), "seg_test.seg")
	if err := codec.WriteSegment(path, rows); err != nil {
		t.Fatalf("WriteSegment failed: %v", err)
	}
	back, err := codec.ReadSegment(path)
	if err != nil {
		t.Fatalf("ReadSegment failed: %v", err)
	}
	if !reflect.DeepEqual(rows, back) {
		t.Fatal("segment round trip lost data")
	}
}

func TestSegmentRejectsGarbage(t *testing.T) {
	codec, err := newSegmentCodec()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "bad.seg")
	if err := os.WriteFile(path, []byte("definitely not a segment"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := codec.ReadSegment(path); err == nil {
		t.Error("garbage segment should be rejected")
	}
}

func TestWALReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	rows := makeRows(t, 20, model.LevelInfo)

	w, err := OpenWAL(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBatch(rows[:12]); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBatch(rows[12:]); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// A new handle sees everything written before the crash.
	w2, err := OpenWAL(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()
	back, err := w2.Replay()
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !reflect.DeepEqual(rows, back) {
		t.Fatalf("replay returned %d rows, want %d", len(back), len(rows))
	}
}

func TestTableRecoversWALOnOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app.db")
	st, tbl := openTestTable(t, dir)

	rows := makeRows(t, 15, model.LevelInfo)
	if err := tbl.Append(rows); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash: drop the handle without flushing or closing cleanly.
	// The kernel releases the flock when the holder dies.
	closeLock(st.lock)
	st.lock = nil

	st2, tbl2 := openTestTable(t, dir)
	defer st2.Close()

	var got []model.Row
	if err := tbl2.Scan(100, func(batch []model.Row) error {
		got = append(got, batch...)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rows, got) {
		t.Fatalf("recovered %d rows, want %d", len(got), len(rows))
	}
}

func TestReadOnlyHandleCannotWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app.db")
	st, tbl := openTestTable(t, dir)
	defer st.Close()

	if err := tbl.Append(makeRows(t, 5, model.LevelInfo)); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Flush(); err != nil {
		t.Fatal(err)
	}

	ro, err := openStore(dir, true, 0, testLogger())
	if err != nil {
		t.Fatalf("read-only open failed: %v", err)
	}
	defer ro.Close()

	roTbl, err := ro.Table("ds", "logs")
	if err != nil {
		t.Fatalf("read-only table open failed: %v", err)
	}
	if err := roTbl.Append(makeRows(t, 1, model.LevelInfo)); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}

	var total int
	if err := roTbl.Scan(100, func(batch []model.Row) error {
		total += len(batch)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("read-only scan: got %d rows", total)
	}
}

func TestStatsPersistAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app.db")
	st, tbl := openTestTable(t, dir)

	if err := tbl.Append(makeRows(t, 7, model.LevelInfo)); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Append(makeRows(t, 3, model.LevelError)); err != nil {
		t.Fatal(err)
	}
	stats := tbl.Stats()
	if stats.TotalLogs != 10 {
		t.Errorf("total logs: got %d", stats.TotalLogs)
	}
	if stats.LevelCounts["INFO"] != 7 || stats.LevelCounts["ERROR"] != 3 {
		t.Errorf("level counts: got %v", stats.LevelCounts)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2, tbl2 := openTestTable(t, dir)
	defer st2.Close()
	reloaded := tbl2.Stats()
	if reloaded.TotalLogs != 10 {
		t.Errorf("stats should survive reopen, got %d", reloaded.TotalLogs)
	}
}

func TestCatalogTracksTables(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app.db")
	st, _ := openTestTable(t, dir)

	if _, err := st.Table("ds", InternalTablePrefix+"_loads"); err != nil {
		t.Fatal(err)
	}
	tables := st.Tables("ds")
	if len(tables) != 2 {
		t.Fatalf("expected 2 tables, got %v", tables)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// The catalog is durable: a fresh handle lists the same tables.
	st2, err := openStore(dir, false, 0, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	if got := st2.Tables("ds"); len(got) != 2 {
		t.Errorf("catalog should persist, got %v", got)
	}
}
