package db

import (
	"github.com/livinlefevreloca/linsched/internal/schedule"
)

// Compile-time checks that DB satisfies the engine's store contracts
var (
	_ schedule.Store        = (*DB)(nil)
	_ schedule.Claimer      = (*DB)(nil)
	_ schedule.HistoryStore = (*DB)(nil)
)

// Column lists shared by the schedule queries
const (
	entryColumns   = "run_seq, job_name, sched_date, status"
	attemptColumns = "run_id, job_name, sched_date, started_at, finished_at, exit_code, output"
)

// timeLayout is used for job_runs timestamps, stored as TEXT so both drivers
// round-trip them identically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
