package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	dbSQLite "github.com/kailas-cloud/dedupd/internal/db/sqlite"
	"github.com/kailas-cloud/dedupd/internal/domain/analysis"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	"github.com/kailas-cloud/dedupd/internal/domain/retention"
	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeSQLiteConfig writes a config that keeps every file inside a temp dir.
func writeSQLiteConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `database:
  driver: sqlite
  sqlite_path: ` + filepath.Join(dir, "dedupd.db") + `
gate:
  mode: filter_and_store
  snapshot_path: ` + filepath.Join(dir, "filter.bin") + `
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "dedupd dev (commit unknown") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestImportThenAnalyze(t *testing.T) {
	cfgPath := writeSQLiteConfig(t)
	input := strings.Join([]string{
		`{"id":"a1","url":"https://example.com/a","content":"first","captured_at":"2024-05-01T10:00:00Z"}`,
		`{"id":"a2","url":"https://example.com/a","content":"second","captured_at":"2024-05-02T10:00:00Z"}`,
		`{"url":"https://example.com/b","content":"third"}`,
		`not json`,
		``,
	}, "\n")

	out, err := execute(t, input, "--config", cfgPath, "--env", "test", "import")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported 3 documents, skipped 1") {
		t.Errorf("import output: %q", out)
	}

	out, err = execute(t, "", "--config", cfgPath, "--env", "test", "analyze", "--json")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var report analysis.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report.TotalDocuments != 3 {
		t.Errorf("TotalDocuments: got %d, want 3", report.TotalDocuments)
	}
	if report.UniqueURLs != 2 {
		t.Errorf("UniqueURLs: got %d, want 2", report.UniqueURLs)
	}
}

func TestCleanupRequestFromFlags(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantTypes []domcleanup.Type
		strategy  retention.Strategy
		dryRun    bool
		threshold float64
		wantErr   bool
	}{
		{
			name:      "defaults",
			wantTypes: []domcleanup.Type{domcleanup.URL},
			strategy:  retention.Latest,
			dryRun:    true,
			threshold: domcleanup.DefaultSimilarityThreshold,
		},
		{
			name:      "execute in application order",
			args:      []string{"--type", "similar,url", "--strategy", "longest_content", "--execute"},
			wantTypes: []domcleanup.Type{domcleanup.URL, domcleanup.Similar},
			strategy:  retention.LongestContent,
			threshold: domcleanup.DefaultSimilarityThreshold,
		},
		{
			name:      "explicit threshold",
			args:      []string{"--type", "similar", "--threshold", "0.8"},
			wantTypes: []domcleanup.Type{domcleanup.Similar},
			strategy:  retention.Latest,
			dryRun:    true,
			threshold: 0.8,
		},
		{name: "threshold out of range", args: []string{"--threshold", "1.5"}, wantErr: true},
		{name: "unknown type", args: []string{"--type", "fuzzy"}, wantErr: true},
		{name: "unknown strategy", args: []string{"--strategy", "oldest"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := pflag.NewFlagSet("cleanup", pflag.ContinueOnError)
			addCleanupFlags(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("parse: %v", err)
			}
			req, err := cleanupRequestFromFlags(fs)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(req.Types) != len(tt.wantTypes) {
				t.Fatalf("types: got %v, want %v", req.Types, tt.wantTypes)
			}
			for i := range tt.wantTypes {
				if req.Types[i] != tt.wantTypes[i] {
					t.Errorf("types[%d]: got %s, want %s", i, req.Types[i], tt.wantTypes[i])
				}
			}
			if req.Strategy != tt.strategy {
				t.Errorf("strategy: got %s, want %s", req.Strategy, tt.strategy)
			}
			if req.DryRun != tt.dryRun {
				t.Errorf("dry run: got %t, want %t", req.DryRun, tt.dryRun)
			}
			if req.SimilarityThreshold != tt.threshold {
				t.Errorf("threshold: got %v, want %v", req.SimilarityThreshold, tt.threshold)
			}
		})
	}
}

func TestReadURLs(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
		want  []string
	}{
		{name: "args win", args: []string{"https://a"}, stdin: "https://b\n", want: []string{"https://a"}},
		{
			name:  "stdin lines",
			stdin: "https://a\n\n  https://b  \n# comment\nhttps://c",
			want:  []string{"https://a", "https://b", "https://c"},
		},
		{name: "empty", stdin: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readURLs(tt.args, strings.NewReader(tt.stdin))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseImportLine(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	doc, err := parseImportLine([]byte(`{"url":"https://example.com","content":"hello"}`), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID() == "" {
		t.Error("expected a generated id")
	}
	if !doc.CapturedAt().Equal(now) {
		t.Errorf("captured_at: got %v, want %v", doc.CapturedAt(), now)
	}

	for _, line := range []string{`{"id":"x","content":"no url"}`, `{`, `[]`} {
		if _, err := parseImportLine([]byte(line), now); err == nil {
			t.Errorf("expected error for %s", line)
		}
	}
}

func TestImportDocuments_SkipsMalformedLines(t *testing.T) {
	store, err := dbSQLite.Open(dbSQLite.MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	core, logs := observer.New(zapcore.WarnLevel)
	input := `{"id":"1","url":"https://a","content":"x","captured_at":"2024-01-01T00:00:00Z"}
{"id":"2"}
{"id":"3","url":"https://b","content":"y","captured_at":"2024-01-01T00:00:00Z"}
`
	stored, skipped, err := importDocuments(context.Background(), store, zap.New(core), strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored != 2 || skipped != 1 {
		t.Errorf("got stored=%d skipped=%d, want 2 and 1", stored, skipped)
	}
	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count: got %d, want 2", n)
	}
	entries := logs.FilterMessage("Skipping import line").All()
	if len(entries) != 1 || entries[0].ContextMap()["line"] != int64(2) {
		t.Errorf("expected one warning for line 2, got %v", entries)
	}
}

func TestPrintCleanup(t *testing.T) {
	dry := &domcleanup.Report{
		RunID:         "r1",
		Strategy:      retention.Latest,
		DryRun:        true,
		PlannedIDs:    []string{"a", "b"},
		PlannedByType: map[domcleanup.Type]int{domcleanup.URL: 2},
	}
	var buf bytes.Buffer
	printCleanup(&buf, dry)
	out := buf.String()
	for _, want := range []string{"dry run", "Planned removals:     2", "--execute"} {
		if !strings.Contains(out, want) {
			t.Errorf("dry run output missing %q:\n%s", want, out)
		}
	}

	live := &domcleanup.Report{
		RunID:         "r2",
		Strategy:      retention.First,
		TotalRemoved:  3,
		RemovedByType: map[domcleanup.Type]int{domcleanup.URL: 2, domcleanup.Content: 1},
		Errors:        1,
		Cancelled:     true,
	}
	buf.Reset()
	printCleanup(&buf, live)
	out = buf.String()
	for _, want := range []string{"Removed:              3", "Failed deletes:       1", "interrupted"} {
		if !strings.Contains(out, want) {
			t.Errorf("live output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintTriggers(t *testing.T) {
	cfg := schedule.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default schedule invalid: %v", err)
	}
	var buf bytes.Buffer
	printTriggers(&buf, cfg, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	out := buf.String()
	for _, tr := range cfg.Triggers {
		if !strings.Contains(out, tr.Name) {
			t.Errorf("output missing trigger %s:\n%s", tr.Name, out)
		}
	}
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil)
	if !strings.Contains(buf.String(), "No runs recorded") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	printHistory(&buf, []schedule.RunRecord{{
		Kind: "light", Status: "error", Trigger: "manual", Error: "store unavailable",
		StartedAt: time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC),
	}})
	if !strings.Contains(buf.String(), "(store unavailable)") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
