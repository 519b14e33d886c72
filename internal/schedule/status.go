package schedule

import (
	"github.com/cockroachdb/errors"
)

// Status is the lifecycle marker of a schedule entry
type Status int

const (
	StatusInitial   Status = iota // Created, not yet run (or reset by an operator)
	StatusRunning                 // Process started, exit not yet recorded
	StatusCompleted               // Process exited 0
	StatusFailed                  // Process exited non-zero
)

// String returns a human-readable representation of the status
func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Code returns the single-character code persisted in the schedule table.
func (s Status) Code() string {
	switch s {
	case StatusInitial:
		return "I"
	case StatusRunning:
		return "R"
	case StatusCompleted:
		return "C"
	case StatusFailed:
		return "F"
	default:
		return "?"
	}
}

// ParseStatus converts a persisted status code back into a Status.
func ParseStatus(code string) (Status, error) {
	switch code {
	case "I":
		return StatusInitial, nil
	case "R":
		return StatusRunning, nil
	case "C":
		return StatusCompleted, nil
	case "F":
		return StatusFailed, nil
	default:
		return 0, errors.Newf("unknown status code %q", code)
	}
}

// ParseOverride parses a status code supplied by an operator for a manual
// update. Only I and C are accepted.
func ParseOverride(code string) (Status, error) {
	switch code {
	case "I":
		return StatusInitial, nil
	case "C":
		return StatusCompleted, nil
	default:
		err := errors.Mark(errors.Newf("invalid status %q", code), ErrValidation)
		return 0, errors.WithHint(err, "status must be I or C")
	}
}
