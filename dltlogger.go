// Package dltlogger captures application events as typed records, mirrors
// them to a console stream and persists them to an embedded analytical
// store, with an explicit batched transfer path to a remote warehouse.
//
// Typical use:
//
//	err := dltlogger.Setup(dltlogger.Config{ProjectName: "billing"})
//	log := dltlogger.GetLogger("invoices")
//	log.Info("invoice rendered", dltlogger.Fields{Action: "render"})
package dltlogger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/JoanClaverol/dlt-logger/internal/config"
	"github.com/JoanClaverol/dlt-logger/internal/model"
	"github.com/JoanClaverol/dlt-logger/internal/pipeline"
	"github.com/JoanClaverol/dlt-logger/internal/store"
	"github.com/JoanClaverol/dlt-logger/internal/transfer"
)

// Public aliases of the configuration and record vocabulary.
type (
	Config    = config.Config
	Remote    = config.Remote
	WriteMode = config.WriteMode
	Level     = model.Level
)

const (
	LevelDebug    = model.LevelDebug
	LevelInfo     = model.LevelInfo
	LevelWarning  = model.LevelWarning
	LevelError    = model.LevelError
	LevelCritical = model.LevelCritical

	WriteAppend = config.WriteAppend
	WriteMerge  = config.WriteMerge
)

// LoadConfig reads a YAML configuration file with the DLT_LOGGER_*
// environment overlay applied.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a configuration with every optional field defaulted.
func DefaultConfig(projectName string) Config {
	return config.Default(projectName)
}

// Runtime is an explicitly owned logging context: configuration, run id,
// console sink and the storage pipeline singleton. Tests build isolated
// Runtimes instead of mutating process-global state; applications normally
// use the package-level default via Setup.
type Runtime struct {
	mu      sync.RWMutex
	cfg     config.Config
	runID   string
	console *consoleSink
	stores  *store.Manager
	pipes   *pipeline.Manager
	diag    *slog.Logger
}

// New validates cfg and builds a Runtime bound to it. An invalid
// configuration is a deployment error and fails hard.
func New(cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	diag := slog.Default().With("component", "dlt-logger")
	stores := store.NewManager(diag)
	stores.MaxRetries = cfg.MaxRetries
	stores.FlushBytes = cfg.FlushBytes

	return &Runtime{
		cfg:     cfg,
		runID:   uuid.New().String(),
		console: newConsoleSink(os.Stderr, cfg.Console(), cfg.MinLevel),
		stores:  stores,
		pipes:   pipeline.NewManager(cfg, stores, diag),
		diag:    diag,
	}, nil
}

// Config returns the bound configuration.
func (rt *Runtime) Config() Config {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.cfg
}

// RunID returns the identifier shared by every record this Runtime emits.
func (rt *Runtime) RunID() string {
	return rt.runID
}

// Logger returns the entry point for one emitting module.
func (rt *Runtime) Logger(module string) *Logger {
	return &Logger{rt: rt, module: module}
}

// Reset rebinds the Runtime to a new configuration. The pipeline singleton
// is invalidated so the next write binds the new path and dataset; a store
// that had degraded to unavailable gets a fresh chance to open.
func (rt *Runtime) Reset(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.cfg = cfg
	rt.stores.MaxRetries = cfg.MaxRetries
	rt.stores.FlushBytes = cfg.FlushBytes
	rt.console = newConsoleSink(os.Stderr, cfg.Console(), cfg.MinLevel)
	rt.pipes.Reset(cfg)
	return nil
}

// Stats returns the cumulative counters of the configured logical table.
func (rt *Runtime) Stats() (store.TableStats, error) {
	return rt.pipes.Get().Stats()
}

// Transfer pushes every stored eligible table to the configured remote
// warehouse. Preconditions are checked before any connection is attempted.
// It returns true only if the destination accepted every batch.
func (rt *Runtime) Transfer(ctx context.Context) (bool, error) {
	rt.mu.RLock()
	cfg := rt.cfg
	rt.mu.RUnlock()

	res := transfer.New(cfg, rt.stores, nil, rt.diag)
	if err := res.Preconditions(); err != nil {
		return false, err
	}

	dest, err := transfer.NewWarehouse(cfg, rt.diag)
	if err != nil {
		return false, fmt.Errorf("connecting to warehouse: %w", err)
	}
	defer dest.Close()

	return rt.TransferTo(ctx, dest)
}

// TransferTo runs the transfer against a caller-supplied destination.
func (rt *Runtime) TransferTo(ctx context.Context, dest transfer.Destination) (bool, error) {
	rt.mu.RLock()
	cfg := rt.cfg
	rt.mu.RUnlock()

	// Make sure buffered rows are readable by the independent handle.
	if p := rt.pipes.Get(); p.Available() {
		if err := p.Flush(); err != nil {
			rt.diag.Warn("flushing before transfer", "error", err)
		}
	}
	return transfer.New(cfg, rt.stores, dest, rt.diag).Run(ctx)
}

// Close flushes buffered rows and releases the store handles.
func (rt *Runtime) Close() {
	rt.pipes.Close()
}

// Package-level default runtime, for applications that want the
// setup-once/get-logger-anywhere shape.
var (
	defaultMu      sync.RWMutex
	defaultRuntime *Runtime
)

// Setup configures the default runtime. Calling it again reconfigures:
// the pipeline singleton is reset and rebound to the new configuration.
func Setup(cfg Config) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultRuntime != nil {
		return defaultRuntime.Reset(cfg)
	}
	rt, err := New(cfg)
	if err != nil {
		return err
	}
	defaultRuntime = rt
	return nil
}

// GetLogger returns a logger for one module, creating a defaulted runtime
// when Setup was never called.
func GetLogger(module string) *Logger {
	return defaultRT().Logger(module)
}

// Transfer runs the transfer of the default runtime.
func Transfer(ctx context.Context) (bool, error) {
	return defaultRT().Transfer(ctx)
}

// Shutdown flushes and closes the default runtime.
func Shutdown() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultRuntime != nil {
		defaultRuntime.Close()
		defaultRuntime = nil
	}
}

func defaultRT() *Runtime {
	defaultMu.RLock()
	rt := defaultRuntime
	defaultMu.RUnlock()
	if rt != nil {
		return rt
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRuntime == nil {
		rt, err := New(config.Default("dlt_logger_app"))
		if err != nil {
			// Defaults always validate; this is unreachable short of a bug.
			panic(err)
		}
		defaultRuntime = rt
	}
	return defaultRuntime
}
