package testutil

import (
	"sync"

	"github.com/livinlefevreloca/linsched/internal/schedule"
)

// ScriptedRunner is a schedule.Runner returning preset exit codes. Each job
// consumes its codes in order; once exhausted the last code repeats. Jobs with
// no codes exit 0.
type ScriptedRunner struct {
	mu    sync.Mutex
	codes map[string][]int
	errs  map[string]error
	calls []string
	onRun func(jobName string)
}

func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{
		codes: make(map[string][]int),
		errs:  make(map[string]error),
	}
}

// SetExitCodes queues exit codes for successive runs of jobName.
func (r *ScriptedRunner) SetExitCodes(jobName string, codes ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[jobName] = codes
}

// SetError makes runs of jobName fail to start.
func (r *ScriptedRunner) SetError(jobName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[jobName] = err
}

// OnRun registers a hook called at the start of every run.
func (r *ScriptedRunner) OnRun(fn func(jobName string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRun = fn
}

func (r *ScriptedRunner) Run(jobName string) (schedule.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, jobName)
	hook := r.onRun
	err := r.errs[jobName]

	code := 0
	if codes := r.codes[jobName]; len(codes) > 0 {
		code = codes[0]
		if len(codes) > 1 {
			r.codes[jobName] = codes[1:]
		}
	}
	r.mu.Unlock()

	if hook != nil {
		hook(jobName)
	}
	if err != nil {
		return schedule.Result{}, err
	}
	return schedule.Result{ExitCode: code, Output: jobName + " output\n"}, nil
}

// Calls returns the job names run so far, in order.
func (r *ScriptedRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]string, len(r.calls))
	copy(result, r.calls)
	return result
}
