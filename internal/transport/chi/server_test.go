package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dedupd/internal/domain"
	"github.com/kailas-cloud/dedupd/internal/domain/analysis"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	"github.com/kailas-cloud/dedupd/internal/domain/retention"
	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
	healthuc "github.com/kailas-cloud/dedupd/internal/usecase/health"
)

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return v
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/analyze", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body)
	}
	report := decode[analysis.Report](t, rr.Body.Bytes())
	if report.TotalDocuments != 3 || report.UniqueURLs != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestAnalyze_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = fmt.Errorf("scan: %w", domain.ErrStoreUnavailable)

	rr := f.do(http.MethodGet, "/analyze", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rr.Code)
	}
	resp := decode[errorResponse](t, rr.Body.Bytes())
	if resp.Code != codeStoreUnavailable || resp.Message != domain.ErrStoreUnavailable.Error() {
		t.Errorf("unexpected error response: %+v", resp)
	}
}

func TestCleanup_DefaultsToDryRun(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/cleanup", `{"types":["content","url"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body)
	}
	got := f.cleaner.got
	if got == nil {
		t.Fatal("cleaner not called")
	}
	if !got.DryRun {
		t.Error("expected dry run when dry_run is omitted")
	}
	if got.Strategy != retention.Latest {
		t.Errorf("strategy: got %s, want latest", got.Strategy)
	}
	if len(got.Types) != 2 || got.Types[0] != domcleanup.URL || got.Types[1] != domcleanup.Content {
		t.Errorf("types: got %v, want [url content]", got.Types)
	}
}

func TestCleanup_LiveRequest(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/cleanup",
		`{"types":["similar"],"strategy":"first","dry_run":false,"similarity_threshold":0.8}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body)
	}
	got := f.cleaner.got
	if got.DryRun || got.Strategy != retention.First || got.SimilarityThreshold != 0.8 {
		t.Errorf("unexpected request: %+v", *got)
	}
}

func TestCleanup_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode errorCode
	}{
		{name: "unknown type", body: `{"types":["everything"]}`, wantCode: codeValidationFailed},
		{name: "no types", body: `{"types":[]}`, wantCode: codeValidationFailed},
		{name: "unknown strategy", body: `{"types":["url"],"strategy":"random"}`, wantCode: codeValidationFailed},
		{name: "threshold out of range", body: `{"types":["similar"],"similarity_threshold":1.5}`,
			wantCode: codeValidationFailed},
		{name: "unknown field", body: `{"types":["url"],"delete_all":true}`, wantCode: codeBadRequest},
		{name: "not json", body: `types=url`, wantCode: codeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			rr := f.do(http.MethodPost, "/cleanup", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want 400", rr.Code)
			}
			if resp := decode[errorResponse](t, rr.Body.Bytes()); resp.Code != tt.wantCode {
				t.Errorf("code: got %s, want %s", resp.Code, tt.wantCode)
			}
			if f.cleaner.got != nil {
				t.Error("cleaner must not run for a rejected request")
			}
		})
	}
}

func TestCleanup_CancelledReturnsPartialReport(t *testing.T) {
	f := newFixture(t)
	f.cleaner.report = &domcleanup.Report{DocumentsProcessed: 2, TotalRemoved: 2, Cancelled: true}
	f.cleaner.err = errors.New("cleanup interrupted after 2 of 5 documents: context canceled")

	rr := f.do(http.MethodPost, "/cleanup", `{"types":["url"],"dry_run":false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	report := decode[domcleanup.Report](t, rr.Body.Bytes())
	if !report.Cancelled || report.TotalRemoved != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestCleanup_InternalErrorHidden(t *testing.T) {
	f := newFixture(t)
	f.cleaner.err = errors.New("redis: connection reset by 10.0.0.3")

	rr := f.do(http.MethodPost, "/cleanup", `{"types":["url"]}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rr.Code)
	}
	if resp := decode[errorResponse](t, rr.Body.Bytes()); resp.Message != "internal error" {
		t.Errorf("message leaked internals: %q", resp.Message)
	}
}

func TestFilterURLs(t *testing.T) {
	f := newFixture(t)
	f.gate.seen["https://a.example/seen"] = true

	rr := f.do(http.MethodPost, "/urls/filter",
		`{"urls":["https://a.example/new","https://a.example/seen","https://a.example/other"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body)
	}
	resp := decode[urlsResponse](t, rr.Body.Bytes())
	want := []string{"https://a.example/new", "https://a.example/other"}
	if fmt.Sprint(resp.URLs) != fmt.Sprint(want) {
		t.Errorf("urls: got %v, want %v", resp.URLs, want)
	}
}

func TestFilterURLs_EmptyListIsArray(t *testing.T) {
	f := newFixture(t)
	f.gate.seen["https://a.example/"] = true

	rr := f.do(http.MethodPost, "/urls/filter", `{"urls":["https://a.example/"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if body := rr.Body.String(); body != "{\"urls\":[]}\n" {
		t.Errorf("body: got %q", body)
	}
}

func TestMarkScraped(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/urls/scraped", `{"url":"https://a.example/x"}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204 (%s)", rr.Code, rr.Body)
	}
	if len(f.gate.marked) != 1 || f.gate.marked[0] != "https://a.example/x" {
		t.Errorf("marked: got %v", f.gate.marked)
	}
	if f.gate.saved != 0 {
		t.Errorf("marks leave snapshots to the background writer, got %d saves", f.gate.saved)
	}
}

func TestMarkScraped_Errors(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		f := newFixture(t)
		rr := f.do(http.MethodPost, "/urls/scraped", `{}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status: got %d, want 400", rr.Code)
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		f := newFixture(t)
		f.gate.markErr = fmt.Errorf("parse %q: %w", "::", domain.ErrInvalidURL)
		rr := f.do(http.MethodPost, "/urls/scraped", `{"url":"::"}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status: got %d, want 400", rr.Code)
		}
	})

	t.Run("cache down", func(t *testing.T) {
		f := newFixture(t)
		f.gate.markErr = fmt.Errorf("mark seen: %w", domain.ErrCacheUnavailable)
		rr := f.do(http.MethodPost, "/urls/scraped", `{"urls":["https://a.example/"]}`)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("status: got %d, want 503", rr.Code)
		}
		if f.gate.saved != 0 {
			t.Error("snapshot must not be saved after a failed mark")
		}
	})
}

func TestGateStats(t *testing.T) {
	f := newFixture(t)
	f.gate.marked = []string{"a", "b"}

	rr := f.do(http.MethodGet, "/gate/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	stats := decode[map[string]any](t, rr.Body.Bytes())
	if stats["mode"] != "filter_and_store" || stats["inserted"] != float64(2) {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestRebuildGate(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/gate/rebuild", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body)
	}
	if f.gate.capacity != 200 {
		t.Errorf("capacity: got %d, want doubled 200", f.gate.capacity)
	}

	rr = f.do(http.MethodPost, "/gate/rebuild", `{"capacity":5000}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	stats := decode[map[string]any](t, rr.Body.Bytes())
	if stats["capacity"] != float64(5000) || f.gate.saved != 2 {
		t.Errorf("stats %v, saves %d", stats, f.gate.saved)
	}
}

func TestScheduleRun(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/schedule/run", `{"kind":"Light"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body)
	}
	if f.scheduler.gotKind != schedule.Light {
		t.Errorf("kind: got %s, want light", f.scheduler.gotKind)
	}
}

func TestScheduleRun_Errors(t *testing.T) {
	t.Run("unknown kind", func(t *testing.T) {
		f := newFixture(t)
		rr := f.do(http.MethodPost, "/schedule/run", `{"kind":"weekly"}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status: got %d, want 400", rr.Code)
		}
	})

	t.Run("already running", func(t *testing.T) {
		f := newFixture(t)
		f.scheduler.err = domain.ErrAlreadyRunning
		rr := f.do(http.MethodPost, "/schedule/run", `{"kind":"full"}`)
		if rr.Code != http.StatusConflict {
			t.Fatalf("status: got %d, want 409", rr.Code)
		}
		if resp := decode[errorResponse](t, rr.Body.Bytes()); resp.Code != codeAlreadyRunning {
			t.Errorf("code: got %s", resp.Code)
		}
	})
}

func TestScheduleStatusAndHistory(t *testing.T) {
	f := newFixture(t)
	f.scheduler.history = []schedule.RunRecord{{ID: "r2", Status: "ok"}, {ID: "r1", Status: "partial"}}

	rr := f.do(http.MethodGet, "/schedule", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if st := decode[map[string]any](t, rr.Body.Bytes()); st["state"] != "waiting_next_trigger" {
		t.Errorf("state: got %v", st["state"])
	}

	rr = f.do(http.MethodGet, "/schedule/runs?limit=5000", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if f.scheduler.limit != maxHistorySize {
		t.Errorf("limit: got %d, want %d", f.scheduler.limit, maxHistorySize)
	}
	resp := decode[struct {
		Runs []schedule.RunRecord `json:"runs"`
	}](t, rr.Body.Bytes())
	if len(resp.Runs) != 2 || resp.Runs[0].ID != "r2" {
		t.Errorf("runs: got %+v", resp.Runs)
	}

	if rr := f.do(http.MethodGet, "/schedule/runs?limit=-1", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("negative limit: got %d, want 400", rr.Code)
	}
}

func TestScheduleRoutes_AbsentWithoutScheduler(t *testing.T) {
	h := NewServer(Deps{
		Analyzer: &fakeAnalyzer{},
		Cleaner:  &fakeCleaner{},
		Gate:     &fakeGate{},
		Health:   &fakeHealth{},
	}).Router()

	f := &fixture{handler: h}
	if rr := f.do(http.MethodGet, "/schedule", ""); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		status healthuc.Status
		want   int
	}{
		{status: healthuc.Healthy, want: http.StatusOK},
		{status: healthuc.Degraded, want: http.StatusOK},
		{status: healthuc.Unhealthy, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture(t, "secret")
			f.health.report = healthuc.Report{Status: tt.status}

			rr := f.do(http.MethodGet, "/health", "")
			if rr.Code != tt.want {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRouter_AuthAndMethods(t *testing.T) {
	f := newFixture(t, "secret")

	if rr := f.do(http.MethodGet, "/analyze", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("analyze without key: got %d, want 401", rr.Code)
	}
	if rr := f.do(http.MethodGet, "/metrics", ""); rr.Code != http.StatusOK {
		t.Errorf("metrics without key: got %d, want 200", rr.Code)
	}

	open := newFixture(t)
	if rr := open.do(http.MethodGet, "/cleanup", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /cleanup: got %d, want 405", rr.Code)
	}
	if rr := open.do(http.MethodGet, "/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown route: got %d, want 404", rr.Code)
	}
}

func TestJSONRecoverer(t *testing.T) {
	h := jsonRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	f := &fixture{handler: h}

	rr := f.do(http.MethodGet, "/", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rr.Code)
	}
	if resp := decode[errorResponse](t, rr.Body.Bytes()); resp.Code != codeInternalError {
		t.Errorf("code: got %s", resp.Code)
	}
}
