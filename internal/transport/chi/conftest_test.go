package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kailas-cloud/dedupd/internal/domain/analysis"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
	"github.com/kailas-cloud/dedupd/internal/domain/gatemode"
	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
	gateuc "github.com/kailas-cloud/dedupd/internal/usecase/gate"
	healthuc "github.com/kailas-cloud/dedupd/internal/usecase/health"
	scheduleruc "github.com/kailas-cloud/dedupd/internal/usecase/scheduler"
)

type fakeAnalyzer struct {
	report *analysis.Report
	err    error
}

func (f *fakeAnalyzer) Analyze(context.Context) (*analysis.Report, error) {
	return f.report, f.err
}

type fakeCleaner struct {
	got    *domcleanup.Request
	report *domcleanup.Report
	err    error
}

func (f *fakeCleaner) Cleanup(_ context.Context, req domcleanup.Request) (*domcleanup.Report, error) {
	f.got = &req
	if f.report == nil && f.err == nil {
		return &domcleanup.Report{DryRun: req.DryRun, TypesRequested: req.Types}, nil
	}
	return f.report, f.err
}

type fakeGate struct {
	seen     map[string]bool
	marked   []string
	markErr  error
	saved    int
	capacity uint64
	rebuilt  int
}

func (f *fakeGate) FilterNewURLs(_ context.Context, urls []string) []string {
	var out []string
	for _, u := range urls {
		if !f.seen[u] {
			out = append(out, u)
		}
	}
	return out
}

func (f *fakeGate) MarkURLsScraped(_ context.Context, urls []string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, urls...)
	return nil
}

func (f *fakeGate) SaveSnapshot(context.Context, gateuc.SnapshotStore) error {
	f.saved++
	return nil
}

func (f *fakeGate) Rebuild(_ context.Context, capacity uint64, _ gateuc.DocumentScanner) error {
	if capacity == 0 {
		capacity = f.capacity * 2
	}
	f.capacity = capacity
	f.rebuilt++
	return nil
}

func (f *fakeGate) Stats() gateuc.Stats {
	return gateuc.Stats{Mode: gatemode.FilterAndStore, Capacity: f.capacity, Inserted: uint64(len(f.marked))}
}

type fakeScheduler struct {
	gotKind schedule.Kind
	run     *scheduleruc.Run
	err     error
	history []schedule.RunRecord
	limit   int
}

func (f *fakeScheduler) RunOnce(_ context.Context, kind schedule.Kind) (*scheduleruc.Run, error) {
	f.gotKind = kind
	if f.run == nil && f.err == nil {
		return &scheduleruc.Run{ID: "run-1", Kind: kind, Trigger: scheduleruc.ManualTrigger}, nil
	}
	return f.run, f.err
}

func (f *fakeScheduler) Status() scheduleruc.Status {
	return scheduleruc.Status{State: scheduleruc.Waiting}
}

func (f *fakeScheduler) History(_ context.Context, n int) ([]schedule.RunRecord, error) {
	f.limit = n
	return f.history, nil
}

type fakeHealth struct {
	report healthuc.Report
}

func (f *fakeHealth) Check(context.Context) healthuc.Report { return f.report }

type noopScanner struct{}

func (noopScanner) Scan(context.Context, int, func([]domdoc.Document) error) error { return nil }

type noopSnapshots struct{}

func (noopSnapshots) Save(context.Context, []byte) error { return nil }

type fixture struct {
	analyzer  *fakeAnalyzer
	cleaner   *fakeCleaner
	gate      *fakeGate
	scheduler *fakeScheduler
	health    *fakeHealth
	handler   http.Handler
}

func newFixture(t *testing.T, apiKeys ...string) *fixture {
	t.Helper()
	f := &fixture{
		analyzer:  &fakeAnalyzer{report: &analysis.Report{TotalDocuments: 3, UniqueURLs: 2}},
		cleaner:   &fakeCleaner{},
		gate:      &fakeGate{seen: map[string]bool{}, capacity: 100},
		scheduler: &fakeScheduler{},
		health:    &fakeHealth{report: healthuc.Report{Status: healthuc.Healthy}},
	}
	f.handler = NewServer(Deps{
		Analyzer:  f.analyzer,
		Cleaner:   f.cleaner,
		Gate:      f.gate,
		Scheduler: f.scheduler,
		Health:    f.health,
		Snapshots: noopSnapshots{},
		Documents: noopScanner{},
		APIKeys:   apiKeys,
	}).Router()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}
