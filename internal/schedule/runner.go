package schedule

// ExitCodeNotStarted is recorded for a job whose process could not be started.
const ExitCodeNotStarted = 127

// Result is the outcome of one job process
type Result struct {
	ExitCode int
	Output   string // combined stdout and stderr
}

// Runner executes a named job synchronously. A non-nil error means the process
// could not be run at all; a process that ran and exited non-zero is reported
// through Result.ExitCode only.
type Runner interface {
	Run(jobName string) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(jobName string) (Result, error)

func (f RunnerFunc) Run(jobName string) (Result, error) {
	return f(jobName)
}
