// Package runner executes schedule jobs as local processes.
package runner

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"

	"github.com/livinlefevreloca/linsched/internal/schedule"
)

// JobPlaceholder is replaced by the job name in Config.Command.
const JobPlaceholder = "{job}"

// Config defines how a job name becomes a process
type Config struct {
	// Command template, e.g. "./{job}.sh"
	Command string `toml:"command"`

	// Shell the command is handed to, e.g. "/bin/sh -c". When empty the
	// command is split and executed directly.
	Shell string `toml:"shell"`

	// Working directory of the process; empty means the current directory
	WorkDir string `toml:"work_dir"`

	// Copy job output to the console as it is produced
	EchoOutput bool `toml:"echo_output"`
}

// DefaultConfig returns the runner configuration matching a directory of
// <job>.sh scripts
func DefaultConfig() Config {
	return Config{
		Command:    "./" + JobPlaceholder + ".sh",
		Shell:      "/bin/sh -c",
		EchoOutput: true,
	}
}

// Validate checks that the templates parse
func (c Config) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return errors.New("runner command must be specified")
	}
	if _, err := shellquote.Split(c.Shell); err != nil {
		return errors.Wrapf(err, "runner shell %q", c.Shell)
	}
	if c.Shell == "" {
		if _, err := shellquote.Split(c.Command); err != nil {
			return errors.Wrapf(err, "runner command %q", c.Command)
		}
	}
	return nil
}

// Runner runs one job at a time, blocking until its process exits
type Runner struct {
	config Config
	shell  []string
	echo   io.Writer
	logger *slog.Logger
}

var _ schedule.Runner = (*Runner)(nil)

// New creates a runner. Job output is copied to echo when
// config.EchoOutput is set and echo is non-nil.
func New(config Config, echo io.Writer, logger *slog.Logger) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	shell, _ := shellquote.Split(config.Shell)
	if !config.EchoOutput {
		echo = nil
	}

	return &Runner{
		config: config,
		shell:  shell,
		echo:   echo,
		logger: logger,
	}, nil
}

// Command returns the argv used to run jobName.
func (r *Runner) Command(jobName string) ([]string, error) {
	if len(r.shell) > 0 {
		command := strings.ReplaceAll(r.config.Command, JobPlaceholder, shellquote.Join(jobName))
		return append(append([]string{}, r.shell...), command), nil
	}

	argv, err := shellquote.Split(r.config.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "runner command %q", r.config.Command)
	}
	if len(argv) == 0 {
		return nil, errors.New("runner command is empty")
	}
	for i := range argv {
		argv[i] = strings.ReplaceAll(argv[i], JobPlaceholder, jobName)
	}
	return argv, nil
}

// Run executes jobName and waits for it. Combined stdout and stderr are
// captured in the result. An error is returned only when the process could
// not be started; its result carries schedule.ExitCodeNotStarted.
func (r *Runner) Run(jobName string) (schedule.Result, error) {
	argv, err := r.Command(jobName)
	if err != nil {
		return schedule.Result{ExitCode: schedule.ExitCodeNotStarted}, err
	}

	// nolint: gosec
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.config.WorkDir
	cmd.Env = append(os.Environ(), "LINSCHED_JOB="+jobName)

	var output bytes.Buffer
	var out io.Writer = &output
	if r.echo != nil {
		out = io.MultiWriter(&output, r.echo)
	}
	// Same writer for both streams keeps their interleaving
	cmd.Stdout = out
	cmd.Stderr = out

	r.logger.Debug("running job", "job", jobName, "argv", argv, "dir", cmd.Dir)

	err = cmd.Run()
	result := schedule.Result{Output: output.String()}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode == -1 {
			// Terminated by a signal
			result.ExitCode = 1
		}
		return result, nil
	}

	result.ExitCode = schedule.ExitCodeNotStarted
	return result, errors.Wrapf(err, "start job %s", jobName)
}
