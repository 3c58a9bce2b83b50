package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/kailas-cloud/dedupd/internal/domain/analysis"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func printAnalysis(w io.Writer, r *analysis.Report) {
	fmt.Fprintf(w, "Documents:            %d\n", r.TotalDocuments)
	fmt.Fprintf(w, "Unique URLs:          %d\n", r.UniqueURLs)
	fmt.Fprintf(w, "URL duplicates:       %d in %d groups\n", r.DuplicateURLCount, r.DuplicateURLGroups)
	fmt.Fprintf(w, "Content duplicates:   %d in %d groups\n", r.ContentDuplicates, r.DuplicateContentGroups)
	fmt.Fprintf(w, "Total duplicates:     %d (%.2f%%)\n", r.TotalDuplicates, r.DuplicatePercent())
	fmt.Fprintf(w, "Efficiency:           %.2f%%\n", r.EfficiencyPercent)
	if r.Errors > 0 {
		fmt.Fprintf(w, "Malformed documents:  %d\n", r.Errors)
	}
	fmt.Fprintf(w, "Recaptures:           %d same day, %d same hour, %d rapid\n",
		r.Temporal.SameDay, r.Temporal.SameHour, r.Temporal.Rapid)

	if len(r.TopDuplicateURLs) > 0 {
		fmt.Fprintln(w, "\nMost duplicated URLs:")
		for _, u := range r.TopDuplicateURLs {
			fmt.Fprintf(w, "  %5d  %s\n", u.Count, u.URL)
		}
	}
	if len(r.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
}

func printCleanup(w io.Writer, r *domcleanup.Report) {
	mode := "live"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "Cleanup %s (%s, strategy %s)\n", r.RunID, mode, r.Strategy)
	fmt.Fprintf(w, "Documents scanned:    %d\n", r.DocumentsScanned)
	fmt.Fprintf(w, "Planned removals:     %d\n", len(r.PlannedIDs))
	for _, t := range domcleanup.Order {
		if n, ok := r.PlannedByType[t]; ok {
			fmt.Fprintf(w, "  %-8s %d\n", t, n)
		}
	}
	if r.DryRun {
		fmt.Fprintln(w, "Nothing was deleted. Re-run with --execute to remove the planned documents.")
		return
	}
	fmt.Fprintf(w, "Processed:            %d\n", r.DocumentsProcessed)
	fmt.Fprintf(w, "Removed:              %d\n", r.TotalRemoved)
	types := make([]string, 0, len(r.RemovedByType))
	for t := range r.RemovedByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-8s %d\n", t, r.RemovedByType[domcleanup.Type(t)])
	}
	if r.Errors > 0 {
		fmt.Fprintf(w, "Failed deletes:       %d\n", r.Errors)
	}
	if r.Cancelled {
		fmt.Fprintln(w, "Run was interrupted before finishing.")
	}
}
