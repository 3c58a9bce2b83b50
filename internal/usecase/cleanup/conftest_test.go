package cleanup

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kailas-cloud/dedupd/internal/domain"
	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
	"github.com/kailas-cloud/dedupd/internal/usecase/analyzer"
)

// memStore is an in-memory document store scanned by the real analyzer.
type memStore struct {
	mu      sync.Mutex
	docs    map[string]domdoc.Document
	fail    map[string]bool
	gone    map[string]bool
	deleted []string
	// onDelete runs after every delete attempt, outside the lock.
	onDelete func(n int)
}

func newMemStore(docs ...domdoc.Document) *memStore {
	s := &memStore{
		docs: make(map[string]domdoc.Document),
		fail: make(map[string]bool),
		gone: make(map[string]bool),
	}
	for _, d := range docs {
		s.docs[d.ID()] = d
	}
	return s
}

func (s *memStore) Scan(_ context.Context, batchSize int, fn func([]domdoc.Document) error) error {
	s.mu.Lock()
	all := make([]domdoc.Document, 0, len(s.docs))
	for _, d := range s.docs {
		all = append(all, d)
	}
	s.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })

	for i := 0; i < len(all); i += batchSize {
		if err := fn(all[i:min(i+batchSize, len(all))]); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	var err error
	switch {
	case s.fail[id]:
		err = errors.New("connection reset")
	case s.gone[id]:
		delete(s.docs, id)
		err = domain.ErrDocumentNotFound
	default:
		if _, ok := s.docs[id]; !ok {
			err = domain.ErrDocumentNotFound
		} else {
			delete(s.docs, id)
			s.deleted = append(s.deleted, id)
		}
	}
	n := len(s.deleted)
	hook := s.onDelete
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return err
}

func (s *memStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.docs))
	for id := range s.docs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// recordingCollector remembers the options of the last collection pass.
type recordingCollector struct {
	inner Collector
	opts  analyzer.CollectOptions
}

func (c *recordingCollector) Collect(ctx context.Context, opts analyzer.CollectOptions) (*analyzer.Grouping, error) {
	c.opts = opts
	return c.inner.Collect(ctx, opts)
}

func newEngine(s *memStore, cfg Config, m Metrics) *Service {
	return New(analyzer.New(s, analyzer.Config{BatchSize: 3}, nil), s, cfg, m, nil)
}

var t0 = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func doc(id, url, content string, at time.Time) domdoc.Document {
	d, err := domdoc.New(id, url, content, at)
	if err != nil {
		panic(err)
	}
	return d
}
