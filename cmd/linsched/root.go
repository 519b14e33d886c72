package main

import (
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/linsched/internal/config"
	"github.com/livinlefevreloca/linsched/internal/db"
	"github.com/livinlefevreloca/linsched/internal/runner"
	"github.com/livinlefevreloca/linsched/internal/schedule"
)

// app carries state shared by all subcommands
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "linsched",
		Short: "Linear daily job scheduler",
		Long: `linsched runs an ordered list of jobs once per day.

A schedule is created for a date from a job list file, one job name per line.
Running the schedule executes the jobs in file order and stops at the first
failure. Running it again resumes from the failed job.

Examples:
  linsched create -d 2024-01-01 -f jobs.lst   # Create the schedule
  linsched run -d 2024-01-01                  # Execute or resume it
  linsched view -d 2024-01-01                 # Show job statuses
  linsched update -d 2024-01-01 -j job_b -s C # Mark a job completed
  linsched clear -d 2024-01-01                # Delete the schedule`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration file (TOML)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		newCreateCmd(a),
		newRunCmd(a),
		newUpdateCmd(a),
		newViewCmd(a),
		newClearCmd(a),
		newHistoryCmd(a),
		newMigrateCmd(a),
		newDaemonCmd(a),
	)

	return root
}

// load reads and validates configuration and builds the logger
func (a *app) load() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	a.cfg = cfg
	a.logger = cfg.Logging.NewLogger(a.stderr)
	slog.SetDefault(a.logger)
	return nil
}

// openDatabase opens the configured database and applies pending migrations
// unless they are disabled.
func (a *app) openDatabase() (*db.DB, error) {
	a.logger.Debug("connecting to database",
		"driver", a.cfg.Database.Driver,
		"dsn", a.cfg.Database.DSN)

	database, err := db.OpenWithConfig(a.cfg.Database)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", a.cfg.Database.DSN)
	}

	if a.cfg.Database.SkipMigrations {
		a.logger.Debug("skipping migrations", "reason", "configured to skip")
		return database, nil
	}

	version, err := database.Migrate(a.logger)
	if err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	a.logger.Debug("database schema ready", "version", version)

	return database, nil
}

// openEngine opens the database and builds an engine over it. The caller
// closes the returned database.
func (a *app) openEngine() (*schedule.Engine, *db.DB, error) {
	jobRunner, err := runner.New(a.cfg.Runner, a.stdout, a.logger)
	if err != nil {
		return nil, nil, err
	}

	database, err := a.openDatabase()
	if err != nil {
		return nil, nil, err
	}

	engine := schedule.NewEngine(database, jobRunner, a.logger,
		schedule.WithAtomicClaim(a.cfg.Execution.AtomicClaim))
	return engine, database, nil
}
