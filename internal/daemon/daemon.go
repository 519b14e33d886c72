// Package daemon triggers the daily schedule from a cron expression: each tick
// creates today's schedule if it does not exist yet and executes it.
package daemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"github.com/livinlefevreloca/linsched/internal/schedule"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config holds daemon settings
type Config struct {
	// Cron expression, 5 fields or a descriptor such as @daily
	Cron string `toml:"cron"`

	// Job list used to create the schedule, relative to the list directory
	ListFile string `toml:"list_file"`

	// IANA zone the cron expression and "today" are evaluated in; empty
	// means local time
	Timezone string `toml:"timezone"`
}

// DefaultConfig returns the default daemon configuration
func DefaultConfig() Config {
	return Config{
		Cron:     "0 6 * * *",
		ListFile: "jobs.lst",
	}
}

// Location returns the configured time zone
func (c Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "daemon timezone %q", tz)
	}
	return loc, nil
}

// Validate checks the cron expression, list file and time zone
func (c Config) Validate() error {
	if strings.TrimSpace(c.Cron) == "" {
		return errors.New("daemon cron must be specified")
	}
	if _, err := parser.Parse(c.Cron); err != nil {
		return errors.Wrapf(err, "daemon cron %q", c.Cron)
	}
	if strings.TrimSpace(c.ListFile) == "" {
		return errors.New("daemon list_file must be specified")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Daemon runs the schedule for the current day on every cron tick
type Daemon struct {
	engine   *schedule.Engine
	config   Config
	listPath string
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a daemon. listPath is the resolved path of the job list.
func New(engine *schedule.Engine, config Config, listPath string, logger *slog.Logger) (*Daemon, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	loc, _ := config.Location()

	return &Daemon{
		engine:   engine,
		config:   config,
		listPath: listPath,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Today returns the schedule date for the current time in the daemon's zone
func (d *Daemon) Today() string {
	return d.now().In(d.loc).Format(schedule.DateLayout)
}

// Tick creates today's schedule if absent and executes it. An existing
// schedule is resumed without reading the job list.
func (d *Daemon) Tick(ctx context.Context) (*schedule.RunReport, error) {
	date := d.Today()

	exists, err := d.engine.Exists(ctx, date)
	if err != nil {
		return nil, errors.Wrapf(err, "look up schedule for %s", date)
	}
	if exists {
		d.logger.Debug("schedule exists, resuming", "date", date)
	} else {
		err := d.engine.Create(ctx, date, d.listPath)
		switch {
		case err == nil:
		case errors.Is(err, schedule.ErrAlreadyExists):
			// Created by another process since the lookup
			d.logger.Debug("schedule exists, resuming", "date", date)
		default:
			return nil, errors.Wrapf(err, "create schedule for %s", date)
		}
	}

	report, err := d.engine.Execute(ctx, date)
	if err != nil {
		return nil, errors.Wrapf(err, "execute schedule for %s", date)
	}
	return report, nil
}

func (d *Daemon) tick() {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	// Shutdown only stops new ticks. A run in progress keeps its store
	// writes, otherwise the current job would be left in status R.
	report, err := d.Tick(context.WithoutCancel(ctx))
	if err != nil {
		d.logger.Error("scheduled run failed", "error", err)
		return
	}
	if report.Failed() {
		d.logger.Warn("scheduled run halted",
			"date", report.Date,
			"run_id", report.RunID,
			"job", report.Halted.JobName,
			"exit_code", report.Halted.ExitCode)
		return
	}
	d.logger.Info("scheduled run finished",
		"date", report.Date,
		"run_id", report.RunID,
		"executed", len(report.Executed))
}

// Start registers the cron entry and starts ticking in the background.
// Ticks that fire while a previous one is still running are skipped.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		return errors.New("daemon already started")
	}

	logger := cronLogger{logger: d.logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(d.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(d.config.Cron, d.tick); err != nil {
		return errors.Wrapf(err, "register cron %q", d.config.Cron)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.c = c
	c.Start()

	d.logger.Info("daemon started",
		"cron", d.config.Cron,
		"tz", d.loc.String(),
		"list_file", d.listPath,
		"next", c.Entries()[0].Next)
	return nil
}

// Stop halts the cron loop and waits for a schedule run in progress to
// finish.
func (d *Daemon) Stop() {
	d.mu.Lock()
	c := d.c
	cancel := d.cancel
	d.c = nil
	d.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	cancel()
	d.logger.Info("daemon stopped")
}

// Run starts the daemon and blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

// cronLogger adapts slog to the cron library's logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
