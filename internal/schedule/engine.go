package schedule

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Engine owns the schedule state machine: it creates schedules, executes them
// in run_seq order with fail-fast and resume semantics, and applies operator
// overrides.
type Engine struct {
	store  Store
	runner Runner
	logger *slog.Logger

	// Conditional I/F -> R write instead of the advisory up-front guard alone
	atomicClaim bool

	now      func() time.Time
	newRunID func() string
}

// Option configures an Engine
type Option func(*Engine)

// WithAtomicClaim makes execute claim each entry with a conditional update.
// It only takes effect when the store implements Claimer.
func WithAtomicClaim(enabled bool) Option {
	return func(e *Engine) {
		e.atomicClaim = enabled
	}
}

// WithClock overrides the time source used for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine over the given store and runner
func NewEngine(store Store, runner Runner, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		runner:   runner,
		logger:   logger,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.atomicClaim {
		if _, ok := store.(Claimer); !ok {
			logger.Warn("store does not support atomic claims, falling back to advisory guard")
			e.atomicClaim = false
		}
	}

	return e
}

// JobOutcome is the result of one job run during Execute
type JobOutcome struct {
	JobName  string
	Seq      int
	Status   Status
	ExitCode int
}

// RunReport summarizes one Execute call
type RunReport struct {
	RunID    string
	Date     string
	Executed []JobOutcome

	// Halted is the job whose failure stopped the run, nil if none failed
	Halted *JobOutcome

	// Remaining counts queued entries left untouched after a halt
	Remaining int
}

// Failed reports whether the run was halted by a job failure.
func (r *RunReport) Failed() bool {
	return r.Halted != nil
}

// Create builds the schedule for date from the job list at listPath. All
// entries start Initial with run_seq in file order.
func (e *Engine) Create(ctx context.Context, date, listPath string) error {
	date, err := ParseDate(date)
	if err != nil {
		return err
	}

	jobs, err := ReadJobListFile(listPath)
	if err != nil {
		return err
	}

	return e.CreateFromJobs(ctx, date, jobs)
}

// CreateFromJobs builds the schedule for date from an ordered job list.
func (e *Engine) CreateFromJobs(ctx context.Context, date string, jobs []string) error {
	date, err := ParseDate(date)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return validationErrorf("job list is empty")
	}
	seen := make(map[string]int, len(jobs))
	for i, job := range jobs {
		if strings.TrimSpace(job) == "" {
			return validationErrorf("job %d has an empty name", i)
		}
		if first, ok := seen[job]; ok {
			return validationErrorf("job %q listed twice (positions %d and %d)", job, first, i)
		}
		seen[job] = i
	}

	count, err := e.store.CountForDate(ctx, date)
	if err != nil {
		return storeError(err, "count schedule entries")
	}
	if count > 0 {
		err := errors.Mark(errors.Newf("schedule for %s already exists (%d jobs)", date, count), ErrAlreadyExists)
		return errors.WithHint(err, "clear the schedule first to recreate it")
	}

	if err := e.store.CreateEntries(ctx, date, jobs); err != nil {
		return storeError(err, "create schedule entries")
	}

	e.logger.Info("schedule created", "date", date, "jobs", len(jobs))
	return nil
}

// Exists reports whether a schedule has been created for date.
func (e *Engine) Exists(ctx context.Context, date string) (bool, error) {
	date, err := ParseDate(date)
	if err != nil {
		return false, err
	}

	count, err := e.store.CountForDate(ctx, date)
	if err != nil {
		return false, storeError(err, "count schedule entries")
	}
	return count > 0, nil
}

// Execute runs every non-Completed entry of the schedule in ascending run_seq
// order, stopping at the first job that exits non-zero. A job failure is
// recorded in the store and the report, not returned as an error.
//
// The Running guard is checked once before the loop. Without atomic claims it
// does not protect against two Execute calls that pass it at the same time.
func (e *Engine) Execute(ctx context.Context, date string) (*RunReport, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	queue, err := e.store.FetchIncomplete(ctx, date)
	if err != nil {
		return nil, storeError(err, "fetch incomplete entries")
	}

	for _, entry := range queue {
		if entry.Status == StatusRunning {
			err := errors.Mark(errors.Newf("%s is in running status in schedule %s", entry.JobName, date), ErrConcurrencyGuard)
			return nil, errors.WithHint(err,
				"if no other run is active, reset the job with an update to I or C")
		}
	}

	report := &RunReport{
		RunID: e.newRunID(),
		Date:  date,
	}
	logger := e.logger.With("run_id", report.RunID, "date", date)

	if len(queue) == 0 {
		logger.Info("nothing to run")
		return report, nil
	}

	logger.Info("starting schedule run", "queued", len(queue))

	for i, entry := range queue {
		if err := e.markRunning(ctx, entry); err != nil {
			return report, err
		}

		startedAt := e.now()
		logger.Info("job started", "job", entry.JobName, "run_seq", entry.Seq)

		result, runErr := e.runner.Run(entry.JobName)
		if runErr != nil {
			logger.Error("job could not be run", "job", entry.JobName, "error", runErr)
			if result.ExitCode == 0 {
				result.ExitCode = ExitCodeNotStarted
			}
		}

		outcome := JobOutcome{
			JobName:  entry.JobName,
			Seq:      entry.Seq,
			Status:   StatusCompleted,
			ExitCode: result.ExitCode,
		}
		if result.ExitCode != 0 {
			outcome.Status = StatusFailed
		}

		if err := e.store.UpdateStatus(ctx, entry.JobName, date, outcome.Status); err != nil {
			return report, storeError(err, "record job status")
		}

		if err := e.recordAttempt(ctx, report.RunID, date, entry.JobName, startedAt, result); err != nil {
			return report, err
		}

		report.Executed = append(report.Executed, outcome)

		if outcome.Status == StatusFailed {
			report.Halted = &report.Executed[len(report.Executed)-1]
			report.Remaining = len(queue) - i - 1
			logger.Warn("job failed, halting schedule",
				"job", entry.JobName,
				"exit_code", result.ExitCode,
				"remaining", report.Remaining)
			return report, nil
		}

		logger.Info("job completed", "job", entry.JobName, "run_seq", entry.Seq)
	}

	logger.Info("schedule run finished", "executed", len(report.Executed))
	return report, nil
}

// markRunning moves an entry to Running before its process starts.
func (e *Engine) markRunning(ctx context.Context, entry Entry) error {
	if !e.atomicClaim {
		if err := e.store.UpdateStatus(ctx, entry.JobName, entry.Date, StatusRunning); err != nil {
			return storeError(err, "mark job running")
		}
		return nil
	}

	claimed, err := e.store.(Claimer).ClaimEntry(ctx, entry.JobName, entry.Date)
	if err != nil {
		return storeError(err, "claim job")
	}
	if !claimed {
		return errors.Mark(
			errors.Newf("%s was claimed by another run in schedule %s", entry.JobName, entry.Date),
			ErrConcurrencyGuard)
	}
	return nil
}

func (e *Engine) recordAttempt(ctx context.Context, runID, date, jobName string, startedAt time.Time, result Result) error {
	history, ok := e.store.(HistoryStore)
	if !ok {
		return nil
	}

	attempt := &Attempt{
		RunID:      runID,
		JobName:    jobName,
		Date:       date,
		StartedAt:  startedAt,
		FinishedAt: e.now(),
		ExitCode:   result.ExitCode,
		Output:     result.Output,
	}
	if err := history.RecordAttempt(ctx, attempt); err != nil {
		return storeError(err, "record job attempt")
	}
	return nil
}

// UpdateStatus overrides the status of one job to Initial or Completed. It
// bypasses the normal transition rules and is the recovery path for entries
// stuck in Running.
func (e *Engine) UpdateStatus(ctx context.Context, jobName, date string, status Status) error {
	date, err := ParseDate(date)
	if err != nil {
		return err
	}
	if jobName == "" {
		return validationErrorf("job name is required")
	}
	if status != StatusInitial && status != StatusCompleted {
		err := validationErrorf("cannot override status to %s", status)
		return errors.WithHint(err, "status must be I or C")
	}

	current, found, err := e.store.FetchStatus(ctx, jobName, date)
	if err != nil {
		return storeError(err, "fetch job status")
	}
	if !found {
		return errors.Mark(errors.Newf("no matching job %q found in schedule %s", jobName, date), ErrNotFound)
	}

	if err := e.store.UpdateStatus(ctx, jobName, date, status); err != nil {
		return storeError(err, "update job status")
	}

	e.logger.Info("job status overridden",
		"date", date,
		"job", jobName,
		"from", current.String(),
		"to", status.String())
	return nil
}

// View returns the schedule for date ordered by run_seq.
func (e *Engine) View(ctx context.Context, date string) ([]Entry, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	entries, err := e.store.FetchAll(ctx, date)
	if err != nil {
		return nil, storeError(err, "fetch schedule")
	}
	return entries, nil
}

// Clear deletes the schedule for date. Clearing an empty date succeeds.
func (e *Engine) Clear(ctx context.Context, date string) error {
	date, err := ParseDate(date)
	if err != nil {
		return err
	}

	if err := e.store.DeleteAll(ctx, date); err != nil {
		return storeError(err, "delete schedule")
	}

	e.logger.Info("schedule cleared", "date", date)
	return nil
}

// History returns recorded job attempts for date, optionally filtered by job.
func (e *Engine) History(ctx context.Context, date, jobName string) ([]Attempt, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	history, ok := e.store.(HistoryStore)
	if !ok {
		return nil, errors.New("store does not keep run history")
	}

	attempts, err := history.FetchAttempts(ctx, date, jobName)
	if err != nil {
		return nil, storeError(err, "fetch run history")
	}
	return attempts, nil
}
