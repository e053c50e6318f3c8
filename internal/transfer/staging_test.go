package transfer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

func stageRecords(t *testing.T, n int) []model.Record {
	t.Helper()
	records := make([]model.Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := model.New(model.Draft{
			ProjectName: "staging-test",
			RunID:       "run-1",
			Message:     "staged event",
		})
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, rec)
	}
	return records
}

func TestStageAndVerify(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStaging(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	path, err := s.Stage("job_logs", 0, stageRecords(t, 25))
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if !strings.HasSuffix(path, stagedSuffix) {
		t.Errorf("unexpected staged file name %q", path)
	}
	if _, err := os.Stat(path + digestSuffix); err != nil {
		t.Fatalf("digest sidecar missing: %v", err)
	}
	if err := s.Verify(path); err != nil {
		t.Errorf("Verify failed on an untouched file: %v", err)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStaging(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	path, err := s.Stage("job_logs", 0, stageRecords(t, 5))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("truncated"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.Verify(path); err == nil {
		t.Error("Verify should reject a modified staged file")
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStaging(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	path, err := s.Stage("job_logs", 0, stageRecords(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	s.Remove(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Remove should delete the file and its sidecar, %d left", len(entries))
	}
}

func TestPruneStale(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStaging(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	stale, err := s.Stage("job_logs", 0, stageRecords(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	for _, p := range []string{stale, stale + digestSuffix} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatal(err)
		}
	}
	fresh, err := s.Stage("job_logs", 1, stageRecords(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	// Unrelated files are never touched.
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(other, []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(other, old, old); err != nil {
		t.Fatal(err)
	}

	s.PruneStale(24 * time.Hour)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale staged file should be pruned")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh staged file should survive")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("unrelated files should survive")
	}
}
