package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
)

var historyLimit int

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect and run the cleanup schedule",
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run <light|full|deep|analysis>",
	Short: "Run one scheduled job now",
	Long: `Runs a job of the given kind immediately with the schedule's cleanup settings.
The run is recorded in the run history like a scheduled one.`,
	Args: cobra.ExactArgs(1),
	RunE: runScheduleRun,
}

var scheduleHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent scheduler runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runScheduleHistory,
}

var scheduleCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the schedule file and print when each trigger fires next",
	Args:  cobra.NoArgs,
	RunE:  runScheduleCheck,
}

func init() {
	scheduleHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	scheduleCmd.AddCommand(scheduleRunCmd, scheduleHistoryCmd, scheduleCheckCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleRun(cmd *cobra.Command, args []string) error {
	kind, err := schedule.ParseKind(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}
	run, runErr := sched.RunOnce(ctx, kind)
	if run != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s (%s) finished in %s\n",
			run.ID, run.Kind, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		if run.Analysis != nil {
			printAnalysis(out, run.Analysis)
		}
		if run.Cleanup != nil {
			fmt.Fprintln(out)
			printCleanup(out, run.Cleanup)
		}
	}
	return runErr
}

func runScheduleHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.runlog.History(ctx, historyLimit)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), records)
	return nil
}

func printHistory(w io.Writer, records []schedule.RunRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s  %-8s %-9s %-24s removed %d/%d errors %d",
			r.StartedAt.Format(time.RFC3339), r.Kind, r.Status, r.Trigger, r.Removed, r.Planned, r.Errors)
		if r.Error != "" {
			fmt.Fprintf(w, "  (%s)", r.Error)
		}
		fmt.Fprintln(w)
	}
}

func runScheduleCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a := &app{cfg: cfg}
	sched, err := a.loadSchedule()
	if err != nil {
		return err
	}
	if err := sched.Validate(); err != nil {
		return err
	}
	printTriggers(cmd.OutOrStdout(), sched, time.Now())
	return nil
}

// printTriggers lists every trigger with its next fire time, or its threshold limits.
func printTriggers(w io.Writer, cfg *schedule.Config, now time.Time) {
	loc := cfg.Location()
	fmt.Fprintf(w, "Timezone %s, strategy %s, dry run %t\n", loc, cfg.Cleanup.Strategy, cfg.Cleanup.DryRun)
	for _, tr := range cfg.Triggers {
		switch {
		case tr.Cadence != nil:
			next := tr.Cadence.Next(now, loc)
			fmt.Fprintf(w, "  %-24s %-8s next %s\n", tr.Name, tr.Kind, next.Format(time.RFC3339))
		case tr.Threshold != nil:
			fmt.Fprintf(w, "  %-24s %-8s when duplicates > %.1f%% or documents > %d, at most every %s\n",
				tr.Name, tr.Kind, tr.Threshold.MaxDuplicatePercent, tr.Threshold.MaxStoreSize, tr.Threshold.MinInterval)
		}
	}
}
