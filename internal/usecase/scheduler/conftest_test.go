package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/dedupd/internal/domain/analysis"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	report analysis.Report
	err    error
	calls  int
}

func (a *fakeAnalyzer) Analyze(context.Context) (*analysis.Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	r := a.report
	return &r, nil
}

type fakeCleaner struct {
	mu      sync.Mutex
	reqs    []domcleanup.Request
	report  domcleanup.Report
	err     error
	started chan struct{}
	release chan struct{}
	during  func()
}

func (c *fakeCleaner) Cleanup(_ context.Context, req domcleanup.Request) (*domcleanup.Report, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	started, release, during := c.started, c.release, c.during
	c.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	if during != nil {
		during()
	}
	r := c.report
	r.TypesRequested = req.Types
	r.DryRun = req.DryRun
	return &r, c.err
}

func (c *fakeCleaner) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

type fakeRunLog struct {
	mu      sync.Mutex
	last    time.Time
	hasLast bool
	records []schedule.RunRecord
	err     error
}

func (l *fakeRunLog) LastCleanup(context.Context) (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.hasLast, l.err
}

func (l *fakeRunLog) SetLastCleanup(_ context.Context, t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last, l.hasLast = t, true
	return l.err
}

func (l *fakeRunLog) Append(_ context.Context, r schedule.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append([]schedule.RunRecord{r}, l.records...)
	return l.err
}

func (l *fakeRunLog) History(_ context.Context, n int) ([]schedule.RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.records) {
		n = len(l.records)
	}
	return l.records[:n], l.err
}
