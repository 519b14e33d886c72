package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/livinlefevreloca/linsched/internal/daemon"
	"github.com/livinlefevreloca/linsched/internal/db"
	"github.com/livinlefevreloca/linsched/internal/runner"
)

// BaseEnv names the environment variable that overrides paths.base_dir
const BaseEnv = "LINSCHED_BASE"

// Config represents the application configuration
type Config struct {
	Paths     PathsConfig     `toml:"paths"`
	Database  db.Config       `toml:"database"`
	Runner    runner.Config   `toml:"runner"`
	Execution ExecutionConfig `toml:"execution"`
	Daemon    daemon.Config   `toml:"daemon"`
	Logging   LoggingConfig   `toml:"logging"`
}

// PathsConfig holds the on-disk layout. Empty values are derived from
// BaseDir by Resolve.
type PathsConfig struct {
	BaseDir string `toml:"base_dir"`
	ListDir string `toml:"list_dir"`
}

// ExecutionConfig holds schedule execution settings
type ExecutionConfig struct {
	AtomicClaim      bool `toml:"atomic_claim"`
	FailOnJobFailure bool `toml:"fail_on_job_failure"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			BaseDir: ".",
		},
		Database: db.Config{
			Driver:          db.DriverMattn,
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
			SkipMigrations:  false,
		},
		Runner: runner.DefaultConfig(),
		Daemon: daemon.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Newf("config file does not exist: %s", path)
	}

	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Newf("unknown config key %q in %s", undecoded[0].String(), path)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. LINSCHED_BASE environment variable
// 4. Command-line flags (handled by caller)
//
// Derived paths are resolved before returning.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		fileConfig, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if base := os.Getenv(BaseEnv); base != "" {
		config.Paths.BaseDir = base
	}

	config.Resolve()
	return config, nil
}

// Resolve fills empty paths from the base directory: job lists live in
// <base>/sched, the database in <base>/sched/database/sched.db, and jobs run
// from the list directory.
func (c *Config) Resolve() {
	if c.Paths.BaseDir == "" {
		c.Paths.BaseDir = "."
	}
	if c.Paths.ListDir == "" {
		c.Paths.ListDir = filepath.Join(c.Paths.BaseDir, "sched")
	}
	if c.Database.DSN == "" {
		c.Database.DSN = filepath.Join(c.Paths.BaseDir, "sched", "database", "sched.db")
	}
	if c.Runner.WorkDir == "" {
		c.Runner.WorkDir = c.Paths.ListDir
	}
}

// ListPath resolves a job list file name against the list directory.
// Absolute paths are returned unchanged.
func (c *Config) ListPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Paths.ListDir, name)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return errors.New("database driver must be specified")
	}
	if c.Database.Driver != db.DriverMattn && c.Database.Driver != db.DriverModernc {
		return errors.Newf("unsupported database driver: %s (must be %s or %s)",
			c.Database.Driver, db.DriverMattn, db.DriverModernc)
	}
	if c.Database.DSN == "" {
		return errors.New("database DSN must be specified")
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return errors.New("database connection limits must not be negative")
	}

	if c.Paths.ListDir == "" {
		return errors.New("paths list_dir must be specified")
	}

	if err := c.Runner.Validate(); err != nil {
		return err
	}
	if err := c.Daemon.Validate(); err != nil {
		return err
	}

	// Logging validation
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errors.Newf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// NewLogger builds the root logger described by the logging section.
// Unknown levels fall back to info.
func (c LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, errors.Newf("invalid log level: %s (must be debug, info, warn, or error)", level)
}
