// Package transfer moves previously stored records from the embedded store
// to a remote analytical destination, as an explicit on-demand operation.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/JoanClaverol/dlt-logger/internal/config"
	"github.com/JoanClaverol/dlt-logger/internal/model"
	"github.com/JoanClaverol/dlt-logger/internal/store"
)

// stalePruneAge is how long a staged file from an earlier failed run is kept
// before the next run sweeps it.
const stalePruneAge = 24 * time.Hour

// Destination accepts batches of re-validated records. Production code uses
// *Warehouse; tests substitute a stub.
type Destination interface {
	EnsureTable(ctx context.Context, table string) error
	WriteBatch(ctx context.Context, table string, records []model.Record, mode config.WriteMode) error
	Close() error
}

// TransferError reports a failed destination batch. It aborts the remaining
// transfer; batches already accepted stay in place.
type TransferError struct {
	Table string
	Batch int
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s batch %d failed: %v", e.Table, e.Batch, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Resource streams the stored tables to a destination in bounded batches.
type Resource struct {
	cfg     config.Config
	stores  *store.Manager
	dest    Destination
	staging *Staging
	logger  *slog.Logger
}

// New builds a transfer resource. The destination is injected so the caller
// decides when to pay the connection cost.
func New(cfg config.Config, stores *store.Manager, dest Destination, logger *slog.Logger) *Resource {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resource{cfg: cfg, stores: stores, dest: dest, logger: logger}
}

// Preconditions checks everything that must hold before any I/O is
// attempted: remote destination enabled with complete coordinates, and an
// existing store path.
func (r *Resource) Preconditions() error {
	if err := r.cfg.ValidateRemote(); err != nil {
		return err
	}
	if _, err := os.Stat(r.cfg.StorePath); err != nil {
		return &config.Error{Field: "store_path", Reason: fmt.Sprintf("store does not exist: %v", err)}
	}
	return nil
}

// Run transfers every eligible table of the configured dataset. It returns
// true only if every batch of every table was accepted; the first batch
// failure cancels the remaining work and returns false. Nothing already
// transferred is rolled back.
func (r *Resource) Run(ctx context.Context) (bool, error) {
	if err := r.Preconditions(); err != nil {
		r.logger.Error("transfer preconditions not met", "error", err)
		return false, err
	}

	staging, err := NewStaging(r.cfg.Remote.StagingLocation, r.logger)
	if err != nil {
		return false, err
	}
	r.staging = staging
	r.staging.PruneStale(stalePruneAge)

	// Independent read-only handle: no lock contention with a live writer.
	st, err := r.stores.OpenReadOnly(r.cfg.StorePath)
	if err != nil {
		return false, fmt.Errorf("opening store for transfer: %w", err)
	}
	defer st.Close()

	for _, table := range st.Tables(r.cfg.DatasetName) {
		if strings.HasPrefix(table, store.InternalTablePrefix) {
			r.logger.Debug("skipping internal table", "table", table)
			continue
		}
		if err := r.transferTable(ctx, st, table); err != nil {
			return false, err
		}
	}

	r.logger.Info("transfer complete", "dataset", r.cfg.DatasetName)
	return true, nil
}

type batchJob struct {
	table   string
	seq     int
	records []model.Record
}

// transferTable streams one table in batches through a bounded worker pool.
// Batches are independent, non-overlapping row ranges, so several may be in
// flight at once.
func (r *Resource) transferTable(ctx context.Context, st *store.Store, table string) error {
	if err := r.dest.EnsureTable(ctx, table); err != nil {
		return &TransferError{Table: table, Err: err}
	}

	t, err := st.Table(r.cfg.DatasetName, table)
	if err != nil {
		return fmt.Errorf("opening table %s: %w", table, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan batchJob)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	workers := r.cfg.Remote.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := r.upload(ctx, job); err != nil {
					r.logger.Error("batch rejected", "table", job.table, "batch", job.seq, "error", err)
					fail(&TransferError{Table: job.table, Batch: job.seq, Err: err})
				}
			}
		}()
	}

	seq := 0
	scanErr := t.Scan(r.cfg.Remote.BatchSize, func(batch []model.Row) error {
		records := r.revalidate(table, batch)
		if len(records) == 0 {
			return nil
		}
		job := batchJob{table: table, seq: seq, records: records}
		seq++
		select {
		case jobs <- job:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(jobs)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	if scanErr != nil && ctx.Err() == nil {
		return fmt.Errorf("scanning %s: %w", table, scanErr)
	}
	r.logger.Info("table transferred", "table", table, "batches", seq)
	return nil
}

// revalidate rebuilds records from stored rows. A row that fails validation
// is skipped with a diagnostic; it never aborts the batch.
func (r *Resource) revalidate(table string, rows []model.Row) []model.Record {
	records := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := model.FromRow(row)
		if err != nil {
			r.logger.Warn("skipping invalid row", "table", table, "id", row.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records
}

// upload stages a batch, verifies the staged file, and hands it to the
// destination. The staged file is removed only after the destination
// accepted the batch.
func (r *Resource) upload(ctx context.Context, job batchJob) error {
	path, err := r.staging.Stage(job.table, job.seq, job.records)
	if err != nil {
		return err
	}
	if err := r.staging.Verify(path); err != nil {
		return err
	}
	if err := r.dest.WriteBatch(ctx, job.table, job.records, r.cfg.Remote.WriteMode); err != nil {
		return err
	}
	r.staging.Remove(path)
	return nil
}
