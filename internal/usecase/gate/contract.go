package gate

import (
	"context"

	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
)

// URLChecker is the authoritative store lookup.
type URLChecker interface {
	ExistsURL(ctx context.Context, url string) (bool, error)
}

// SeenCache is the shared exact seen-set used by cache_and_store.
type SeenCache interface {
	Contains(ctx context.Context, url string) (bool, error)
	MarkSeen(ctx context.Context, url string) error
}

// DocumentScanner streams stored documents for warming.
type DocumentScanner interface {
	Scan(ctx context.Context, batchSize int, fn func([]domdoc.Document) error) error
}

// SnapshotStore persists the serialized membership filter.
type SnapshotStore interface {
	Save(ctx context.Context, data []byte) error
}
