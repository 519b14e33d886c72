package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/linsched/internal/daemon"
	"github.com/livinlefevreloca/linsched/internal/schedule"
)

func addDateFlag(cmd *cobra.Command, date *string) {
	cmd.Flags().StringVarP(date, "date", "d", "", "Schedule date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("date")
}

func newCreateCmd(a *app) *cobra.Command {
	var date, file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the schedule for a date from a job list",
		Long: `Create the schedule for a date from a job list file.

Relative file names are looked up in the list directory (paths.list_dir).
Every job starts in status I. Creating a date that already has a schedule
fails; clear it first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := schedule.ParseDate(date)
			if err != nil {
				return err
			}
			jobs, err := schedule.ReadJobListFile(a.cfg.ListPath(file))
			if err != nil {
				return err
			}

			engine, database, err := a.openEngine()
			if err != nil {
				return err
			}
			defer database.Close()

			if err := engine.CreateFromJobs(cmd.Context(), date, jobs); err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "Created schedule %s with %d jobs\n", date, len(jobs))
			return nil
		},
	}

	addDateFlag(cmd, &date)
	cmd.Flags().StringVarP(&file, "file", "f", "", "Job list file, one job name per line")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var date string
	var failOnJobFailure bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute or resume the schedule for a date",
		Long: `Execute every job of the schedule that has not completed, in order.

The run stops at the first job that exits non-zero and marks it F. Running
again resumes from that job. A job left in status R by an interrupted run
blocks execution until it is reset with update.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := schedule.ParseDate(date)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("fail-on-job-failure") {
				failOnJobFailure = a.cfg.Execution.FailOnJobFailure
			}

			engine, database, err := a.openEngine()
			if err != nil {
				return err
			}
			defer database.Close()

			report, err := engine.Execute(cmd.Context(), date)
			if err != nil {
				return err
			}

			printReport(a, report)

			if report.Failed() && failOnJobFailure {
				return &exitCodeError{
					code: exitJobFailure,
					msg:  fmt.Sprintf("job %s failed", report.Halted.JobName),
				}
			}
			return nil
		},
	}

	addDateFlag(cmd, &date)
	cmd.Flags().BoolVar(&failOnJobFailure, "fail-on-job-failure", false,
		"Exit with status 2 when a job fails (default from execution.fail_on_job_failure)")
	return cmd
}

func printReport(a *app, report *schedule.RunReport) {
	if len(report.Executed) == 0 {
		fmt.Fprintf(a.stdout, "Nothing to run for %s\n", report.Date)
		return
	}

	if report.Failed() {
		fmt.Fprintf(a.stdout, "%s %s exited with code %d, %d job(s) not run\n",
			pterm.Red("FAILED"), report.Halted.JobName, report.Halted.ExitCode, report.Remaining)
		return
	}
	fmt.Fprintf(a.stdout, "%s %d job(s) completed for %s\n",
		pterm.Green("OK"), len(report.Executed), report.Date)
}

func newUpdateCmd(a *app) *cobra.Command {
	var date, job, status string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Override the status of a job",
		Long: `Override the status of one job in a schedule.

Only I (run again) and C (skip) may be set. This is the way to clear a job
stuck in status R after an interrupted run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := schedule.ParseDate(date)
			if err != nil {
				return err
			}
			newStatus, err := schedule.ParseOverride(status)
			if err != nil {
				return err
			}

			engine, database, err := a.openEngine()
			if err != nil {
				return err
			}
			defer database.Close()

			if err := engine.UpdateStatus(cmd.Context(), job, date, newStatus); err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "Set %s to %s in schedule %s\n", job, newStatus.Code(), date)
			return nil
		},
	}

	addDateFlag(cmd, &date)
	cmd.Flags().StringVarP(&job, "job", "j", "", "Job name")
	cmd.Flags().StringVarP(&status, "status", "s", "", "New status (I or C)")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newViewCmd(a *app) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show the schedule for a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := schedule.ParseDate(date)
			if err != nil {
				return err
			}

			engine, database, err := a.openEngine()
			if err != nil {
				return err
			}
			defer database.Close()

			entries, err := engine.View(cmd.Context(), date)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(a.stdout, "No schedule for %s\n", date)
				return nil
			}

			data := pterm.TableData{{"SEQ", "JOB", "DATE", "STATUS"}}
			for _, entry := range entries {
				data = append(data, []string{
					strconv.Itoa(entry.Seq),
					entry.JobName,
					entry.Date,
					entry.Status.Code(),
				})
			}
			return renderTable(a, data)
		},
	}

	addDateFlag(cmd, &date)
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the schedule for a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := schedule.ParseDate(date)
			if err != nil {
				return err
			}

			engine, database, err := a.openEngine()
			if err != nil {
				return err
			}
			defer database.Close()

			if err := engine.Clear(cmd.Context(), date); err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "Cleared schedule %s\n", date)
			return nil
		},
	}

	addDateFlag(cmd, &date)
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var date, job string
	var showOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded job runs for a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := schedule.ParseDate(date)
			if err != nil {
				return err
			}

			engine, database, err := a.openEngine()
			if err != nil {
				return err
			}
			defer database.Close()

			attempts, err := engine.History(cmd.Context(), date, job)
			if err != nil {
				return err
			}
			if len(attempts) == 0 {
				fmt.Fprintf(a.stdout, "No runs recorded for %s\n", date)
				return nil
			}

			data := pterm.TableData{{"RUN", "JOB", "STARTED", "DURATION", "EXIT"}}
			for _, attempt := range attempts {
				data = append(data, []string{
					shortRunID(attempt.RunID),
					attempt.JobName,
					attempt.StartedAt.Local().Format(time.DateTime),
					attempt.FinishedAt.Sub(attempt.StartedAt).Round(time.Millisecond).String(),
					strconv.Itoa(attempt.ExitCode),
				})
			}
			if err := renderTable(a, data); err != nil {
				return err
			}

			if showOutput {
				for _, attempt := range attempts {
					fmt.Fprintf(a.stdout, "\n==> %s (run %s)\n%s", attempt.JobName, shortRunID(attempt.RunID), attempt.Output)
				}
			}
			return nil
		},
	}

	addDateFlag(cmd, &date)
	cmd.Flags().StringVarP(&job, "job", "j", "", "Only show runs of this job")
	cmd.Flags().BoolVar(&showOutput, "output", false, "Print captured job output")
	return cmd
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderTable(a *app, data pterm.TableData) error {
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "render table")
	}
	fmt.Fprint(a.stdout, table)
	return nil
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.Database.SkipMigrations = false

			database, err := a.openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			version, err := database.Migrate(a.logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "Database %s at schema version %d\n", a.cfg.Database.DSN, version)
			return nil
		},
	}
}

func newDaemonCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Create and run each day's schedule on a cron trigger",
		Long: `Run in the foreground, creating today's schedule from daemon.list_file and
executing it every time daemon.cron fires. An existing schedule is resumed.
Stops on SIGINT or SIGTERM once the schedule run in progress finishes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, database, err := a.openEngine()
			if err != nil {
				return err
			}
			defer database.Close()

			d, err := daemon.New(engine, a.cfg.Daemon, a.cfg.ListPath(a.cfg.Daemon.ListFile), a.logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return d.Run(ctx)
		},
	}
}
