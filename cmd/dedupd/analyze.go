package main

import (
	"github.com/spf13/cobra"
)

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Report URL and content duplication in the store",
	Long: `Scans the document store without modifying it and reports duplicate URL groups,
exact content duplicates across URLs, recapture patterns and recommendations.`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.analyzer.Analyze(ctx)
	if err != nil {
		return err
	}
	if analyzeJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printAnalysis(cmd.OutOrStdout(), report)
	return nil
}
