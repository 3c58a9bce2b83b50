package cleanup

import (
	"context"

	"github.com/kailas-cloud/dedupd/internal/usecase/analyzer"
)

// Collector groups the store's documents for planning.
type Collector interface {
	Collect(ctx context.Context, opts analyzer.CollectOptions) (*analyzer.Grouping, error)
}

// Deleter removes a document by id. A missing document returns domain.ErrDocumentNotFound.
type Deleter interface {
	Delete(ctx context.Context, id string) error
}
