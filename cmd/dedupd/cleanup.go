package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove duplicate documents",
	Long: `Plans the removal of duplicate documents and, with --execute, deletes them.

Types are applied in the order url, content, similar. Each URL or content group
keeps one survivor chosen by the retention strategy: latest, longest_content or first.
Without --execute nothing is deleted and the report lists what would be removed.

Examples:
  dedupd cleanup                              # dry run, URL duplicates
  dedupd cleanup --type url,content           # dry run, URL and content duplicates
  dedupd cleanup --type similar --threshold 0.9 --execute`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	addCleanupFlags(cleanupCmd.Flags())
	rootCmd.AddCommand(cleanupCmd)
}

func addCleanupFlags(f *pflag.FlagSet) {
	f.StringSlice("type", []string{string(domcleanup.URL)}, "duplicate types: url, content, similar")
	f.String("strategy", "latest", "survivor strategy: latest, longest_content, first")
	f.Float64("threshold", domcleanup.DefaultSimilarityThreshold, "similarity threshold for --type similar")
	f.Bool("execute", false, "delete the planned documents")
	f.Bool("json", false, "print the report as JSON")
}

// cleanupRequestFromFlags builds a validated request. The threshold is passed only when set.
func cleanupRequestFromFlags(f *pflag.FlagSet) (domcleanup.Request, error) {
	types, err := f.GetStringSlice("type")
	if err != nil {
		return domcleanup.Request{}, err
	}
	strategy, err := f.GetString("strategy")
	if err != nil {
		return domcleanup.Request{}, err
	}
	execute, err := f.GetBool("execute")
	if err != nil {
		return domcleanup.Request{}, err
	}
	dryRun := !execute

	var threshold *float64
	if f.Changed("threshold") {
		v, err := f.GetFloat64("threshold")
		if err != nil {
			return domcleanup.Request{}, err
		}
		threshold = &v
	}
	return domcleanup.NewRequest(types, strategy, &dryRun, threshold)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	req, err := cleanupRequestFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	// Interrupting a live run stops between documents and still prints the report.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, runErr := a.cleaner.Cleanup(ctx, req)
	if report != nil {
		if asJSON {
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			printCleanup(cmd.OutOrStdout(), report)
		}
	}
	return runErr
}
