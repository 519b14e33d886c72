package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/linsched/internal/config"
	"github.com/livinlefevreloca/linsched/internal/db"
	"github.com/livinlefevreloca/linsched/internal/schedule"
)

const testDate = "2024-01-01"

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

// testEnv is a base directory laid out like a real installation:
// <base>/sched holds the job list and the job scripts.
type testEnv struct {
	t       *testing.T
	base    string
	listDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	listDir := filepath.Join(base, "sched")
	require.NoError(t, os.MkdirAll(listDir, 0755))
	t.Setenv(config.BaseEnv, base)

	return &testEnv{t: t, base: base, listDir: listDir}
}

func (e *testEnv) writeFile(name, content string, mode os.FileMode) {
	e.t.Helper()
	require.NoError(e.t, os.WriteFile(filepath.Join(e.listDir, name), []byte(content), mode))
}

// writeJob creates <name>.sh. The job fails while a file fail_<name> exists.
func (e *testEnv) writeJob(name string) {
	e.t.Helper()
	script := "#!/bin/sh\n" +
		"if [ -f fail_" + name + " ]; then echo '" + name + " failing'; exit 1; fi\n" +
		"echo '" + name + " done'\n"
	e.writeFile(name+".sh", script, 0755)
}

func (e *testEnv) setFailing(name string, failing bool) {
	e.t.Helper()
	path := filepath.Join(e.listDir, "fail_"+name)
	if failing {
		require.NoError(e.t, os.WriteFile(path, nil, 0644))
	} else {
		require.NoError(e.t, os.Remove(path))
	}
}

func (e *testEnv) dbPath() string {
	return filepath.Join(e.base, "sched", "database", "sched.db")
}

func (e *testEnv) openDB() *db.DB {
	e.t.Helper()
	database, err := db.Open(db.DriverMattn, e.dbPath())
	require.NoError(e.t, err)
	e.t.Cleanup(func() { database.Close() })
	return database
}

func (e *testEnv) statuses() map[string]string {
	e.t.Helper()
	entries, err := e.openDB().FetchAll(context.Background(), testDate)
	require.NoError(e.t, err)

	result := make(map[string]string, len(entries))
	for _, entry := range entries {
		result[entry.JobName] = entry.Status.Code()
	}
	return result
}

type result struct {
	code   int
	stdout string
	stderr string
}

func (e *testEnv) run(args ...string) result {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append(args, "--log-level", "error"), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func newExampleEnv(t *testing.T) *testEnv {
	env := newTestEnv(t)
	env.writeFile("jobs.lst", "job_a\njob_b\njob_c\n", 0644)
	for _, job := range []string{"job_a", "job_b", "job_c"} {
		env.writeJob(job)
	}
	return env
}

func TestCreate(t *testing.T) {
	env := newExampleEnv(t)

	res := env.run("create", "-d", testDate, "-f", "jobs.lst")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Created schedule 2024-01-01 with 3 jobs")

	assert.Equal(t, map[string]string{"job_a": "I", "job_b": "I", "job_c": "I"}, env.statuses())

	entries, err := env.openDB().FetchAll(context.Background(), testDate)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "job_a", entries[0].JobName)
	assert.Equal(t, 0, entries[0].Seq)
	assert.Equal(t, "job_c", entries[2].JobName)
	assert.Equal(t, 2, entries[2].Seq)
}

func TestCreate_AlreadyExists(t *testing.T) {
	env := newExampleEnv(t)
	require.Equal(t, exitOK, env.run("create", "-d", testDate, "-f", "jobs.lst").code)

	res := env.run("create", "-d", testDate, "-f", "jobs.lst")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "already exists")
	assert.Contains(t, res.stderr, "Hint:")
}

func TestCreate_ValidationBeforeStore(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad date", []string{"create", "-d", "2024-13-01", "-f", "jobs.lst"}, "not a valid date"},
		{"missing file", []string{"create", "-d", testDate, "-f", "nope.lst"}, "file not present"},
		{"missing flag", []string{"create", "-d", testDate}, "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newExampleEnv(t)

			res := env.run(tt.args...)
			assert.Equal(t, exitError, res.code)
			assert.Contains(t, res.stderr, tt.want)

			_, err := os.Stat(filepath.Dir(env.dbPath()))
			assert.True(t, os.IsNotExist(err), "database should not be touched")
		})
	}
}

func TestRun_FailFastAndResume(t *testing.T) {
	env := newExampleEnv(t)
	require.Equal(t, exitOK, env.run("create", "-d", testDate, "-f", "jobs.lst").code)

	env.setFailing("job_b", true)
	res := env.run("run", "-d", testDate)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "job_a done")
	assert.Contains(t, res.stdout, "job_b failing")
	assert.NotContains(t, res.stdout, "job_c done")
	assert.Contains(t, res.stdout, "FAILED job_b exited with code 1, 1 job(s) not run")
	assert.Equal(t, map[string]string{"job_a": "C", "job_b": "F", "job_c": "I"}, env.statuses())

	env.setFailing("job_b", false)
	res = env.run("run", "-d", testDate)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.NotContains(t, res.stdout, "job_a done", "completed jobs must not rerun")
	assert.Contains(t, res.stdout, "job_b done")
	assert.Contains(t, res.stdout, "job_c done")
	assert.Contains(t, res.stdout, "OK 2 job(s) completed")
	assert.Equal(t, map[string]string{"job_a": "C", "job_b": "C", "job_c": "C"}, env.statuses())

	res = env.run("run", "-d", testDate)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Nothing to run")
}

func TestRun_FailOnJobFailure(t *testing.T) {
	env := newExampleEnv(t)
	require.Equal(t, exitOK, env.run("create", "-d", testDate, "-f", "jobs.lst").code)
	env.setFailing("job_a", true)

	res := env.run("run", "-d", testDate, "--fail-on-job-failure")
	assert.Equal(t, exitJobFailure, res.code)
	assert.Empty(t, res.stderr)
	assert.Equal(t, "F", env.statuses()["job_a"])
}

func TestRun_MissingScriptFails(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile("jobs.lst", "ghost\n", 0644)
	require.Equal(t, exitOK, env.run("create", "-d", testDate, "-f", "jobs.lst").code)

	res := env.run("run", "-d", testDate)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "FAILED ghost exited with code 127")
	assert.Equal(t, "F", env.statuses()["ghost"])
}

func TestRun_RunningGuardAndRecovery(t *testing.T) {
	env := newExampleEnv(t)
	require.Equal(t, exitOK, env.run("create", "-d", testDate, "-f", "jobs.lst").code)

	// Simulate a run interrupted while job_b was executing
	database := env.openDB()
	ctx := context.Background()
	require.NoError(t, database.UpdateStatus(ctx, "job_a", testDate, schedule.StatusCompleted))
	require.NoError(t, database.UpdateStatus(ctx, "job_b", testDate, schedule.StatusRunning))
	database.Close()

	res := env.run("run", "-d", testDate)
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "job_b is in running status in schedule 2024-01-01")
	assert.Empty(t, res.stdout)

	res = env.run("update", "-d", testDate, "-j", "job_b", "-s", "I")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Set job_b to I")

	res = env.run("run", "-d", testDate)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, map[string]string{"job_a": "C", "job_b": "C", "job_c": "C"}, env.statuses())
}

func TestUpdate_Errors(t *testing.T) {
	env := newExampleEnv(t)
	require.Equal(t, exitOK, env.run("create", "-d", testDate, "-f", "jobs.lst").code)

	res := env.run("update", "-d", testDate, "-j", "job_a", "-s", "R")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "I or C")

	res = env.run("update", "-d", testDate, "-j", "nonexistent", "-s", "C")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "no matching job")

	assert.Equal(t, "I", env.statuses()["job_a"])
}

func TestUpdate_SkipJob(t *testing.T) {
	env := newExampleEnv(t)
	require.Equal(t, exitOK, env.run("create", "-d", testDate, "-f", "jobs.lst").code)
	env.setFailing("job_b", true)

	require.Equal(t, exitOK, env.run("update", "-d", testDate, "-j", "job_b", "-s", "C").code)

	res := env.run("run", "-d", testDate)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.NotContains(t, res.stdout, "job_b failing")
	assert.Contains(t, res.stdout, "OK 2 job(s) completed")
}

func TestViewAndClear(t *testing.T) {
	env := newExampleEnv(t)

	res := env.run("view", "-d", testDate)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "No schedule for 2024-01-01")

	require.Equal(t, exitOK, env.run("create", "-d", testDate, "-f", "jobs.lst").code)

	res = env.run("view", "-d", testDate)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "SEQ")
	assert.Contains(t, res.stdout, "job_a")
	assert.Contains(t, res.stdout, "job_c")

	res = env.run("clear", "-d", testDate)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Empty(t, env.statuses())

	// Clearing again succeeds
	res = env.run("clear", "-d", testDate)
	assert.Equal(t, exitOK, res.code)
}

func TestHistory(t *testing.T) {
	env := newExampleEnv(t)
	require.Equal(t, exitOK, env.run("create", "-d", testDate, "-f", "jobs.lst").code)
	env.setFailing("job_b", true)
	require.Equal(t, exitOK, env.run("run", "-d", testDate).code)
	env.setFailing("job_b", false)
	require.Equal(t, exitOK, env.run("run", "-d", testDate).code)

	attempts, err := env.openDB().FetchAttempts(context.Background(), testDate, "job_b")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].ExitCode)
	assert.Equal(t, 0, attempts[1].ExitCode)
	assert.NotEqual(t, attempts[0].RunID, attempts[1].RunID)

	res := env.run("history", "-d", testDate, "-j", "job_b", "--output")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "EXIT")
	assert.Contains(t, res.stdout, "job_b failing")
	assert.Contains(t, res.stdout, "job_b done")
	assert.NotContains(t, res.stdout, "job_a")
}

func TestMigrate(t *testing.T) {
	env := newTestEnv(t)

	res := env.run("migrate")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "schema version 2")

	_, err := os.Stat(env.dbPath())
	assert.NoError(t, err)
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	configPath := filepath.Join(env.base, "linsched.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[database]\ndriver = \"postgres\"\n"), 0644))

	res := env.run("--config", configPath, "view", "-d", testDate)
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "unsupported database driver")
}
