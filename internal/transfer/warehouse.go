package transfer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/JoanClaverol/dlt-logger/internal/config"
	"github.com/JoanClaverol/dlt-logger/internal/model"
)

// Warehouse writes batches to the remote analytical destination through the
// pgx driver. The destination schema mirrors the embedded store: one column
// per record field, context as jsonb, id as the primary key.
type Warehouse struct {
	db     *sql.DB
	schema string
	logger *slog.Logger
}

// NewWarehouse connects to the destination described by the remote
// configuration. The endpoint is derived from the region and database name
// unless an explicit DSN override is set.
func NewWarehouse(cfg config.Config, logger *slog.Logger) (*Warehouse, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := cfg.Remote.DSN
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://dlt_logger@analytics.%s.warehouse.internal:5432/%s?sslmode=require",
			cfg.Remote.Region, cfg.Remote.Database)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening warehouse connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.Remote.Workers + 1)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging warehouse: %w", err)
	}

	logger.Info("connected to warehouse", "region", cfg.Remote.Region, "database", cfg.Remote.Database)
	return &Warehouse{db: db, schema: cfg.DatasetName, logger: logger}, nil
}

// EnsureTable bootstraps the destination schema and table.
func (w *Warehouse) EnsureTable(ctx context.Context, table string) error {
	if _, err := w.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, w.schema)); err != nil {
		return fmt.Errorf("creating schema %s: %w", w.schema, err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q.%q (
			id             TEXT PRIMARY KEY,
			project_name   TEXT NOT NULL,
			module_name    TEXT,
			function_name  TEXT,
			run_id         TEXT NOT NULL,
			timestamp      TIMESTAMPTZ NOT NULL,
			level          TEXT NOT NULL,
			action         TEXT,
			message        TEXT,
			success        BOOLEAN,
			status_code    BIGINT,
			duration_ms    BIGINT,
			request_method TEXT,
			context        JSONB NOT NULL DEFAULT '{}'
		)`, w.schema, table)
	if _, err := w.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating table %s.%s: %w", w.schema, table, err)
	}
	return nil
}

// WriteBatch pushes one batch inside a single transaction. Append mode
// tolerates duplicate ids by dropping them; merge mode upserts by id.
func (w *Warehouse) WriteBatch(ctx context.Context, table string, records []model.Record, mode config.WriteMode) error {
	if len(records) == 0 {
		return nil
	}

	conflict := `ON CONFLICT (id) DO NOTHING`
	if mode == config.WriteMerge {
		conflict = `ON CONFLICT (id) DO UPDATE SET
			project_name = EXCLUDED.project_name,
			module_name = EXCLUDED.module_name,
			function_name = EXCLUDED.function_name,
			run_id = EXCLUDED.run_id,
			timestamp = EXCLUDED.timestamp,
			level = EXCLUDED.level,
			action = EXCLUDED.action,
			message = EXCLUDED.message,
			success = EXCLUDED.success,
			status_code = EXCLUDED.status_code,
			duration_ms = EXCLUDED.duration_ms,
			request_method = EXCLUDED.request_method,
			context = EXCLUDED.context`
	}

	query := fmt.Sprintf(`
		INSERT INTO %q.%q (
			id, project_name, module_name, function_name, run_id, timestamp,
			level, action, message, success, status_code, duration_ms,
			request_method, context
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb)
		%s`, w.schema, table, conflict)

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing batch insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		row := rec.Row()
		_, err := stmt.ExecContext(ctx,
			rec.ID,
			rec.ProjectName,
			nullString(rec.ModuleName),
			nullString(rec.FunctionName),
			rec.RunID,
			rec.Timestamp,
			string(rec.Level),
			nullString(rec.Action),
			nullString(rec.Message),
			rec.Success,
			rec.StatusCode,
			rec.DurationMS,
			nullString(rec.RequestMethod),
			row.Context,
		)
		if err != nil {
			return fmt.Errorf("inserting record %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// Close releases the warehouse connection pool.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
