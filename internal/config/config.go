// Package config holds the process-wide settings describing where and how
// log records are sunk. A Config is set once at startup and read by every
// component; changing it afterwards must go through a pipeline reset.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

// WriteMode selects the destination write semantics for transfer.
type WriteMode string

const (
	// WriteAppend appends every batch, tolerating duplicates across runs.
	WriteAppend WriteMode = "append"
	// WriteMerge upserts destination rows by record id.
	WriteMerge WriteMode = "merge"
)

const (
	DefaultStorePath  = "./logs/app.db"
	DefaultDataset    = "dlt_logger"
	DefaultTable      = "job_logs"
	DefaultBatchSize  = 10000
	DefaultWorkers    = 4
	DefaultFlushBytes = 4 * 1024 * 1024
)

// Remote holds the coordinates of the remote analytical destination. All
// fields except DSN are required together when Enabled is true.
type Remote struct {
	Enabled         bool      `yaml:"enabled"`
	Region          string    `yaml:"region"`
	Database        string    `yaml:"database"`
	StagingLocation string    `yaml:"staging_location"`
	WriteMode       WriteMode `yaml:"write_mode"`
	BatchSize       int       `yaml:"batch_size"`
	Workers         int       `yaml:"workers"`
	// DSN overrides the endpoint derived from Region and Database.
	DSN string `yaml:"dsn"`
}

// Config is the full configuration surface of the logger.
type Config struct {
	ProjectName    string      `yaml:"project_name"`
	StorePath      string      `yaml:"store_path"`
	MinLevel       model.Level `yaml:"min_level"`
	ConsoleEnabled *bool       `yaml:"console_enabled"`
	DatasetName    string      `yaml:"dataset_name"`
	TableName      string      `yaml:"table_name"`
	FlushBytes     int64       `yaml:"flush_bytes"`
	MaxRetries     int         `yaml:"max_retries"`
	Remote         Remote      `yaml:"remote"`
}

// Error reports missing or contradictory settings. It is raised eagerly at
// configuration time or when transfer preconditions are checked.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Default returns a Config with every optional field defaulted.
func Default(projectName string) Config {
	cfg := Config{ProjectName: projectName}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.StorePath == "" {
		c.StorePath = DefaultStorePath
	}
	if c.MinLevel == "" {
		c.MinLevel = model.LevelInfo
	}
	if c.ConsoleEnabled == nil {
		v := true
		c.ConsoleEnabled = &v
	}
	if c.DatasetName == "" {
		c.DatasetName = DefaultDataset
	}
	if c.TableName == "" {
		c.TableName = DefaultTable
	}
	if c.FlushBytes <= 0 {
		c.FlushBytes = DefaultFlushBytes
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Remote.WriteMode == "" {
		c.Remote.WriteMode = WriteAppend
	}
	if c.Remote.BatchSize <= 0 {
		c.Remote.BatchSize = DefaultBatchSize
	}
	if c.Remote.Workers <= 0 {
		c.Remote.Workers = DefaultWorkers
	}
}

// Console reports whether console mirroring is enabled.
func (c Config) Console() bool {
	return c.ConsoleEnabled == nil || *c.ConsoleEnabled
}

// Validate applies defaults and checks the configuration for contradictions.
// An invalid configuration is a deployment error, so callers treat a non-nil
// result as fatal.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.ProjectName == "" {
		return &Error{Field: "project_name", Reason: "must not be empty"}
	}
	if !c.MinLevel.Valid() {
		return &Error{Field: "min_level", Reason: fmt.Sprintf("unknown level %q", c.MinLevel)}
	}
	if c.Remote.WriteMode != WriteAppend && c.Remote.WriteMode != WriteMerge {
		return &Error{Field: "remote.write_mode", Reason: "must be append or merge"}
	}
	if c.Remote.Enabled {
		return c.ValidateRemote()
	}
	return nil
}

// ValidateRemote checks that every remote coordinate is present. It is also
// run as a transfer precondition, before any connection is attempted.
func (c Config) ValidateRemote() error {
	if !c.Remote.Enabled {
		return &Error{Field: "remote.enabled", Reason: "remote destination is disabled"}
	}
	if c.Remote.Region == "" {
		return &Error{Field: "remote.region", Reason: "required when remote is enabled"}
	}
	if c.Remote.Database == "" {
		return &Error{Field: "remote.database", Reason: "required when remote is enabled"}
	}
	if c.Remote.StagingLocation == "" {
		return &Error{Field: "remote.staging_location", Reason: "required when remote is enabled"}
	}
	return nil
}

// Load reads a YAML configuration file, applies the DLT_LOGGER_* environment
// overlay and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays DLT_LOGGER_* environment variables onto the config.
// Environment values win over file values.
func (c *Config) ApplyEnv() {
	setString(&c.ProjectName, "DLT_LOGGER_PROJECT_NAME")
	setString(&c.StorePath, "DLT_LOGGER_STORE_PATH")
	setString(&c.DatasetName, "DLT_LOGGER_DATASET_NAME")
	setString(&c.TableName, "DLT_LOGGER_TABLE_NAME")
	if v, ok := os.LookupEnv("DLT_LOGGER_MIN_LEVEL"); ok {
		c.MinLevel = model.Level(v)
	}
	if v, ok := os.LookupEnv("DLT_LOGGER_CONSOLE_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ConsoleEnabled = &b
		}
	}
	if v, ok := os.LookupEnv("DLT_LOGGER_REMOTE_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Remote.Enabled = b
		}
	}
	setString(&c.Remote.Region, "DLT_LOGGER_REMOTE_REGION")
	setString(&c.Remote.Database, "DLT_LOGGER_REMOTE_DATABASE")
	setString(&c.Remote.StagingLocation, "DLT_LOGGER_STAGING_LOCATION")
	setString(&c.Remote.DSN, "DLT_LOGGER_REMOTE_DSN")
	if v, ok := os.LookupEnv("DLT_LOGGER_WRITE_MODE"); ok {
		c.Remote.WriteMode = WriteMode(v)
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}
