package store

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"syscall"
	"testing"
	"time"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManager() *Manager {
	m := NewManager(testLogger())
	m.BackoffBase = time.Millisecond
	m.Sleep = func(time.Duration) {}
	return m
}

func lockPath(dir string) string {
	return filepath.Join(dir, lockFileName)
}

// holdLock takes the writer flock the way a competing process would and
// returns a release func. Releasing twice is safe.
func holdLock(t *testing.T, dir string) func() {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(lockPath(dir), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		t.Fatal(err)
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}
	t.Cleanup(release)
	return release
}

func TestAcquire_Idempotent(t *testing.T) {
	m := testManager()
	dir := filepath.Join(t.TempDir(), "app.db")

	st, err := m.Acquire(dir, "ds", "logs")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer m.Reset()

	again, err := m.Acquire(dir, "ds", "logs")
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if st != again {
		t.Error("Acquire should hand out the same handle for the same path")
	}
	if got := m.State(dir); got != StateOpen {
		t.Errorf("state: got %s", got)
	}
}

func TestAcquire_RetriesUntilUnlocked(t *testing.T) {
	m := testManager()
	dir := filepath.Join(t.TempDir(), "app.db")
	release := holdLock(t, dir)

	var waits []time.Duration
	m.Sleep = func(d time.Duration) {
		waits = append(waits, d)
		// The competing writer lets go before the final attempt.
		if len(waits) == 2 {
			release()
		}
	}

	st, err := m.Acquire(dir, "ds", "logs")
	if err != nil {
		t.Fatalf("Acquire should succeed on the third attempt: %v", err)
	}
	defer m.Reset()

	if len(waits) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(waits))
	}
	if waits[0] != m.BackoffBase || waits[1] != 2*m.BackoffBase {
		t.Errorf("backoff should double: got %v", waits)
	}
	if st == nil || m.State(dir) != StateOpen {
		t.Error("store should be open after the retry")
	}
}

func TestAcquire_ExhaustedIsTerminal(t *testing.T) {
	m := testManager()
	dir := filepath.Join(t.TempDir(), "app.db")
	release := holdLock(t, dir)

	sleeps := 0
	m.Sleep = func(time.Duration) { sleeps++ }

	if _, err := m.Acquire(dir, "ds", "logs"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if sleeps != m.MaxRetries-1 {
		t.Errorf("expected %d sleeps, got %d", m.MaxRetries-1, sleeps)
	}
	if got := m.State(dir); got != StateUnavailable {
		t.Errorf("state: got %s", got)
	}

	// A later call must not re-run the retry loop: unavailable is terminal
	// until Reset, even after the lock is gone.
	release()
	sleeps = 0
	if _, err := m.Acquire(dir, "ds", "logs"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on the cached state, got %v", err)
	}
	if sleeps != 0 {
		t.Error("terminal state should not retry")
	}
}

func TestAcquire_NonLockErrorFailsFast(t *testing.T) {
	m := testManager()
	dir := filepath.Join(t.TempDir(), "app.db")

	// A regular file where the store directory should be is not retryable.
	if err := os.WriteFile(dir, []byte("not a directory"), 0644); err != nil {
		t.Fatal(err)
	}

	sleeps := 0
	m.Sleep = func(time.Duration) { sleeps++ }

	if _, err := m.Acquire(dir, "ds", "logs"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if sleeps != 0 {
		t.Error("non-lock failures should not be retried")
	}
}

func TestManagerReset(t *testing.T) {
	m := testManager()
	dir := filepath.Join(t.TempDir(), "app.db")
	release := holdLock(t, dir)

	if _, err := m.Acquire(dir, "ds", "logs"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	release()
	m.Reset()

	st, err := m.Acquire(dir, "ds", "logs")
	if err != nil {
		t.Fatalf("Acquire after Reset failed: %v", err)
	}
	defer m.Reset()
	if st == nil || m.State(dir) != StateOpen {
		t.Error("Reset should allow a path to recover")
	}
}

func TestAcquire_RecoversAfterCrash(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app.db")

	first := testManager()
	st, err := first.Acquire(dir, "ds", "logs")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	tbl, err := st.Table("ds", "logs")
	if err != nil {
		t.Fatal(err)
	}
	rows := makeRows(t, 5, model.LevelInfo)
	if err := tbl.Append(rows); err != nil {
		t.Fatal(err)
	}

	// Simulate the process dying mid-run: no Close, no flush. The kernel
	// drops the flock with the process; dropping the lock fd stands in for
	// that here, and the LOCK file itself stays behind.
	closeLock(st.lock)
	st.lock = nil

	m := testManager()
	sleeps := 0
	m.Sleep = func(time.Duration) { sleeps++ }

	st2, err := m.Acquire(dir, "ds", "logs")
	if err != nil {
		t.Fatalf("restart after a crash must reopen the store: %v", err)
	}
	defer m.Reset()
	if sleeps != 0 {
		t.Errorf("a stale LOCK file must not trigger retries, got %d sleeps", sleeps)
	}
	if _, err := os.Stat(lockPath(dir)); err != nil {
		t.Fatalf("LOCK file should still exist after the crash: %v", err)
	}

	// The rows that only reached the WAL are replayed on reopen.
	tbl2, err := st2.Table("ds", "logs")
	if err != nil {
		t.Fatal(err)
	}
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

func TestOpenReadOnly_BypassesLock(t *testing.T) {
	m := testManager()
	dir := filepath.Join(t.TempDir(), "app.db")

	writer, err := m.Acquire(dir, "ds", "logs")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer m.Reset()

	reader, err := m.OpenReadOnly(dir)
	if err != nil {
		t.Fatalf("OpenReadOnly should not contend with the writer: %v", err)
	}
	defer reader.Close()

	if !reader.ReadOnly() || writer.ReadOnly() {
		t.Error("handle modes are wrong")
	}
}

func TestOpenReadOnly_MissingPath(t *testing.T) {
	m := testManager()
	if _, err := m.OpenReadOnly(filepath.Join(t.TempDir(), "absent.db")); err == nil {
		t.Error("read-only open must not create the store")
	}
}
