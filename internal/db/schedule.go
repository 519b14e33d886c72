package db

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/livinlefevreloca/linsched/internal/schedule"
)

// =============================================================================
// Schedule Operations
// =============================================================================

// CountForDate returns the number of entries scheduled for date
func (db *DB) CountForDate(ctx context.Context, date string) (int, error) {
	query := `SELECT COUNT(*) FROM schedule WHERE sched_date = ?`

	var count int
	if err := db.QueryRowContext(ctx, query, date).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CreateEntries inserts the schedule for date in a single transaction.
// run_seq is the job's position in jobs.
func (db *DB) CreateEntries(ctx context.Context, date string, jobs []string) error {
	query := `
		INSERT INTO schedule (run_seq, job_name, sched_date, status)
		VALUES (?, ?, ?, ?)
	`

	return db.WithTransaction(func(tx *Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for seq, job := range jobs {
			if _, err := stmt.ExecContext(ctx, seq, job, date, schedule.StatusInitial.Code()); err != nil {
				return errors.Wrapf(err, "insert %s", job)
			}
		}
		return nil
	})
}

// FetchIncomplete retrieves entries that are not Completed, in run order
func (db *DB) FetchIncomplete(ctx context.Context, date string) ([]schedule.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM schedule
		WHERE sched_date = ? AND status <> 'C'
		ORDER BY run_seq
	`
	return db.queryEntries(ctx, query, date)
}

// FetchAll retrieves every entry for date, in run order
func (db *DB) FetchAll(ctx context.Context, date string) ([]schedule.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM schedule
		WHERE sched_date = ?
		ORDER BY run_seq
	`
	return db.queryEntries(ctx, query, date)
}

func (db *DB) queryEntries(ctx context.Context, query string, args ...interface{}) ([]schedule.Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []schedule.Entry
	for rows.Next() {
		var (
			entry schedule.Entry
			code  string
		)
		if err := rows.Scan(&entry.Seq, &entry.JobName, &entry.Date, &code); err != nil {
			return nil, err
		}
		entry.Status, err = schedule.ParseStatus(code)
		if err != nil {
			return nil, errors.Wrapf(err, "job %s", entry.JobName)
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if entries == nil {
		entries = []schedule.Entry{}
	}

	return entries, nil
}

// FetchStatus retrieves the status of one job. found is false when the job
// is not part of the schedule.
func (db *DB) FetchStatus(ctx context.Context, jobName, date string) (schedule.Status, bool, error) {
	query := `
		SELECT status
		FROM schedule
		WHERE job_name = ? AND sched_date = ?
		LIMIT 1
	`

	var code string
	err := db.QueryRowContext(ctx, query, jobName, date).Scan(&code)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	status, err := schedule.ParseStatus(code)
	if err != nil {
		return 0, false, err
	}
	return status, true, nil
}

// UpdateStatus sets the status of one job
func (db *DB) UpdateStatus(ctx context.Context, jobName, date string, status schedule.Status) error {
	query := `
		UPDATE schedule
		SET status = ?
		WHERE job_name = ? AND sched_date = ?
	`

	result, err := db.ExecContext(ctx, query, status.Code(), jobName, date)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ClaimEntry marks a job Running only if it is neither Running nor Completed.
// It reports false when another writer got there first.
func (db *DB) ClaimEntry(ctx context.Context, jobName, date string) (bool, error) {
	query := `
		UPDATE schedule
		SET status = 'R'
		WHERE job_name = ? AND sched_date = ? AND status NOT IN ('R', 'C')
	`

	result, err := db.ExecContext(ctx, query, jobName, date)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// DeleteAll removes the schedule for date. Deleting nothing is not an error.
func (db *DB) DeleteAll(ctx context.Context, date string) error {
	query := `DELETE FROM schedule WHERE sched_date = ?`

	_, err := db.ExecContext(ctx, query, date)
	return err
}
