package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var filterMark bool

var filterCmd = &cobra.Command{
	Use:   "filter [url...]",
	Short: "Print the URLs that still need fetching",
	Long: `Runs discovered URLs through the duplicate gate and prints the ones not seen before.
URLs come from the arguments or, when none are given, one per line on stdin.
With --mark the admitted URLs are recorded as scraped and the filter snapshot is saved.

Example:
  cat discovered.txt | dedupd filter --mark > to_fetch.txt`,
	RunE: runFilter,
}

func init() {
	filterCmd.Flags().BoolVar(&filterMark, "mark", false, "record admitted URLs as scraped")
	rootCmd.AddCommand(filterCmd)
}

// readURLs returns args when present, otherwise the non-blank, non-comment lines of r.
func readURLs(args []string, r io.Reader) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	var urls []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

func runFilter(cmd *cobra.Command, args []string) error {
	urls, err := readURLs(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	gate, err := a.newGate(ctx)
	if err != nil {
		return err
	}
	admitted := gate.FilterNewURLs(ctx, urls)
	for _, u := range admitted {
		fmt.Fprintln(cmd.OutOrStdout(), u)
	}
	a.logger.Debug("URLs filtered", zap.Int("input", len(urls)), zap.Int("admitted", len(admitted)))

	if !filterMark || len(admitted) == 0 {
		return nil
	}
	if err := gate.MarkURLsScraped(ctx, admitted); err != nil {
		return err
	}
	return gate.SaveSnapshot(context.WithoutCancel(ctx), a.snapshots)
}
