package schedule

import (
	"context"
	"strings"
	"time"
)

// DateLayout is the format of a schedule date, both on the command line and
// in the store.
const DateLayout = "2006-01-02"

// Entry is a single job of a schedule
type Entry struct {
	Seq     int
	JobName string
	Date    string
	Status  Status
}

// ParseDate validates a YYYY-MM-DD date and returns it in canonical form.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", validationErrorf("not a valid date: %q", s)
	}
	return t.Format(DateLayout), nil
}

// Store persists schedule entries. Every method is an independent unit of
// work; nothing spans a whole execution run.
type Store interface {
	CountForDate(ctx context.Context, date string) (int, error)

	// CreateEntries inserts one Initial entry per job, run_seq = position in jobs
	CreateEntries(ctx context.Context, date string, jobs []string) error

	// FetchIncomplete returns entries not Completed, ascending run_seq
	FetchIncomplete(ctx context.Context, date string) ([]Entry, error)

	// FetchAll returns every entry for date, ascending run_seq
	FetchAll(ctx context.Context, date string) ([]Entry, error)

	// FetchStatus reports found=false when no entry matches
	FetchStatus(ctx context.Context, jobName, date string) (status Status, found bool, err error)

	// UpdateStatus fails with a not-found error when no entry matches
	UpdateStatus(ctx context.Context, jobName, date string, status Status) error

	// DeleteAll is a no-op when no entries exist
	DeleteAll(ctx context.Context, date string) error
}

// Claimer is implemented by stores that can move an entry to Running only if
// it is neither Running nor Completed, in a single conditional write.
type Claimer interface {
	ClaimEntry(ctx context.Context, jobName, date string) (bool, error)
}

// Attempt is one execution of a job during an execute call
type Attempt struct {
	RunID      string
	JobName    string
	Date       string
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Output     string
}

// HistoryStore is implemented by stores that keep a record of job attempts.
type HistoryStore interface {
	RecordAttempt(ctx context.Context, attempt *Attempt) error
	FetchAttempts(ctx context.Context, date, jobName string) ([]Attempt, error)
}
