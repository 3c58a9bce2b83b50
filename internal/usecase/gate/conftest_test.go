package gate

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/dedupd/internal/domain"
	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
	"github.com/kailas-cloud/dedupd/internal/domain/urlnorm"
)

// fakeStore answers ExistsURL from a set of normalized URLs.
type fakeStore struct {
	mu    sync.Mutex
	urls  map[string]bool
	err   error
	block bool
	calls int
}

func newFakeStore(urls ...string) *fakeStore {
	s := &fakeStore{urls: make(map[string]bool)}
	for _, u := range urls {
		n, _ := urlnorm.Normalize(u)
		s.urls[n] = true
	}
	return s
}

func (s *fakeStore) ExistsURL(ctx context.Context, url string) (bool, error) {
	s.mu.Lock()
	s.calls++
	block, err := s.block, s.err
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	n, err := urlnorm.Normalize(url)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urls[n], nil
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeCache is an in-memory seen cache.
type fakeCache struct {
	mu      sync.Mutex
	seen    map[string]bool
	err     error
	markErr error
}

func newFakeCache() *fakeCache { return &fakeCache{seen: make(map[string]bool)} }

func (c *fakeCache) Contains(_ context.Context, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	return c.seen[url], nil
}

func (c *fakeCache) MarkSeen(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markErr != nil {
		return c.markErr
	}
	c.seen[url] = true
	return nil
}

// fakeScanner streams documents in fixed batches.
type fakeScanner struct {
	docs []domdoc.Document
	err  error
}

func (s *fakeScanner) Scan(_ context.Context, batchSize int, fn func([]domdoc.Document) error) error {
	if s.err != nil {
		return s.err
	}
	for i := 0; i < len(s.docs); i += batchSize {
		end := min(i+batchSize, len(s.docs))
		if err := fn(s.docs[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// fakeSnapshots keeps every write in order and flags writes that overlap.
type fakeSnapshots struct {
	mu       sync.Mutex
	data     []byte
	history  [][]byte
	err      error
	inFlight int
	overlap  bool
}

func (f *fakeSnapshots) Save(_ context.Context, data []byte) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	f.mu.Unlock()
	time.Sleep(100 * time.Microsecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.err != nil {
		return f.err
	}
	f.data = append([]byte(nil), data...)
	f.history = append(f.history, f.data)
	return nil
}

func (f *fakeSnapshots) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

var errDown = domain.ErrStoreUnavailable
