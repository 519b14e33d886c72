package db

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/livinlefevreloca/linsched/internal/schedule"
)

// RecordAttempt stores one job execution
func (db *DB) RecordAttempt(ctx context.Context, attempt *schedule.Attempt) error {
	query := `
		INSERT INTO job_runs (` + attemptColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		attempt.RunID,
		attempt.JobName,
		attempt.Date,
		attempt.StartedAt.UTC().Format(timeLayout),
		attempt.FinishedAt.UTC().Format(timeLayout),
		attempt.ExitCode,
		attempt.Output,
	)

	return err
}

// FetchAttempts retrieves the attempts recorded for date in the order they
// ran. An empty jobName returns attempts for every job.
func (db *DB) FetchAttempts(ctx context.Context, date, jobName string) ([]schedule.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM job_runs
		WHERE sched_date = ? AND (? = '' OR job_name = ?)
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query, date, jobName, jobName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []schedule.Attempt
	for rows.Next() {
		var (
			a                     schedule.Attempt
			startedAt, finishedAt string
		)
		err := rows.Scan(
			&a.RunID,
			&a.JobName,
			&a.Date,
			&startedAt,
			&finishedAt,
			&a.ExitCode,
			&a.Output,
		)
		if err != nil {
			return nil, err
		}

		if a.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, errors.Wrap(err, "parse started_at")
		}
		if a.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
			return nil, errors.Wrap(err, "parse finished_at")
		}
		attempts = append(attempts, a)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if attempts == nil {
		attempts = []schedule.Attempt{}
	}

	return attempts, nil
}
