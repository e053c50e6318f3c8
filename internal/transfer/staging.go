package transfer

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

const (
	stagedSuffix = ".ndjson.zst"
	digestSuffix = ".b2sum"
)

// Staging writes batches to the staging location before they are pushed to
// the destination. A staged file is zstd-compressed NDJSON in the canonical
// wire encoding, with a BLAKE2b digest sidecar that is verified right before
// upload.
type Staging struct {
	dir     string
	encoder *zstd.Encoder
	logger  *slog.Logger
}

// NewStaging prepares the staging directory.
func NewStaging(dir string, logger *slog.Logger) (*Staging, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging location: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &Staging{dir: dir, encoder: enc, logger: logger}, nil
}

// Stage writes one batch to the staging location and returns the staged
// file path.
func (s *Staging) Stage(table string, seq int, records []model.Record) (string, error) {
	buf := new(bytes.Buffer)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return "", fmt.Errorf("encoding staged record: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	compressed := s.encoder.EncodeAll(buf.Bytes(), nil)
	name := fmt.Sprintf("%s_%05d_%d%s", table, seq, time.Now().UnixNano(), stagedSuffix)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, compressed, 0644); err != nil {
		return "", fmt.Errorf("writing staged batch: %w", err)
	}

	digest := blake2b.Sum256(compressed)
	if err := os.WriteFile(path+digestSuffix, []byte(hex.EncodeToString(digest[:])), 0644); err != nil {
		return "", fmt.Errorf("writing staged digest: %w", err)
	}
	return path, nil
}

// Verify recomputes the digest of a staged file against its sidecar.
func (s *Staging) Verify(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	want, err := os.ReadFile(path + digestSuffix)
	if err != nil {
		return err
	}
	digest := blake2b.Sum256(data)
	if hex.EncodeToString(digest[:]) != strings.TrimSpace(string(want)) {
		return fmt.Errorf("staged file %s: digest mismatch", filepath.Base(path))
	}
	return nil
}

// Remove deletes a staged file and its digest sidecar after a successful
// upload. Failed uploads leave their staged files behind for inspection.
func (s *Staging) Remove(path string) {
	_ = os.Remove(path)
	_ = os.Remove(path + digestSuffix)
}

// PruneStale removes staged files older than maxAge, left behind by
// previous failed runs.
func (s *Staging) PruneStale(maxAge time.Duration) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}

	threshold := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, stagedSuffix) && !strings.HasSuffix(name, digestSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(threshold) {
			path := filepath.Join(s.dir, name)
			if err := os.Remove(path); err == nil {
				s.logger.Info("pruned stale staged file", "file", name)
			}
		}
	}
}
