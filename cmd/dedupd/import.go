package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load captured documents from JSON lines",
	Long: `Reads one JSON object per line and stores it as a captured document:

  {"id": "...", "url": "https://...", "content": "...", "captured_at": "2024-05-01T10:00:00Z"}

id is generated when missing and captured_at defaults to now. Reads stdin when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

const maxImportLine = 16 << 20

func init() {
	rootCmd.AddCommand(importCmd)
}

type importLine struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Content    string    `json:"content"`
	CapturedAt time.Time `json:"captured_at"`
}

// parseImportLine decodes one line into a document, filling in id and capture time.
func parseImportLine(line []byte, now time.Time) (domdoc.Document, error) {
	var in importLine
	if err := json.Unmarshal(line, &in); err != nil {
		return domdoc.Document{}, fmt.Errorf("decode: %w", err)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CapturedAt.IsZero() {
		in.CapturedAt = now
	}
	return domdoc.New(in.ID, in.URL, in.Content, in.CapturedAt)
}

func runImport(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stored, skipped, err := importDocuments(ctx, a.docs, a.logger, in)
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d documents, skipped %d\n", stored, skipped)
	return err
}

// importDocuments stores every valid line of r. Malformed lines are logged and skipped.
func importDocuments(ctx context.Context, store documentStore, logger *zap.Logger, r io.Reader) (stored, skipped int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	now := time.Now().UTC()
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		doc, err := parseImportLine(line, now)
		if err != nil {
			logger.Warn("Skipping import line", zap.Int("line", n), zap.Error(err))
			skipped++
			continue
		}
		if err := store.Put(ctx, doc); err != nil {
			return stored, skipped, fmt.Errorf("store line %d: %w", n, err)
		}
		stored++
	}
	if err := sc.Err(); err != nil {
		return stored, skipped, fmt.Errorf("read input: %w", err)
	}
	return stored, skipped, nil
}
