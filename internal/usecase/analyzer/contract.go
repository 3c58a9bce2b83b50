package analyzer

import (
	"context"

	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
)

// DocumentScanner streams the document store in batches.
type DocumentScanner interface {
	Scan(ctx context.Context, batchSize int, fn func([]domdoc.Document) error) error
}
