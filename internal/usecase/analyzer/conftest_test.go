package analyzer

import (
	"context"
	"time"

	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
)

// fakeScanner streams docs in batches. Each call starts at a different offset,
// mimicking the unordered iteration of a Redis set scan.
type fakeScanner struct {
	docs  []domdoc.Document
	err   error
	calls int
}

func (s *fakeScanner) Scan(_ context.Context, batchSize int, fn func([]domdoc.Document) error) error {
	if s.err != nil {
		return s.err
	}
	n := len(s.docs)
	rotated := make([]domdoc.Document, 0, n)
	if n > 0 {
		off := s.calls % n
		rotated = append(rotated, s.docs[off:]...)
		rotated = append(rotated, s.docs[:off]...)
	}
	s.calls++

	for i := 0; i < n; i += batchSize {
		if err := fn(rotated[i:min(i+batchSize, n)]); err != nil {
			return err
		}
	}
	return nil
}

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func doc(id, url, content string, at time.Time) domdoc.Document {
	d, err := domdoc.New(id, url, content, at)
	if err != nil {
		panic(err)
	}
	return d
}
