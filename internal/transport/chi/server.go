package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dedupd/internal/domain"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
	logpkg "github.com/kailas-cloud/dedupd/internal/logger"
	"github.com/kailas-cloud/dedupd/internal/metrics"
	gateuc "github.com/kailas-cloud/dedupd/internal/usecase/gate"
	healthuc "github.com/kailas-cloud/dedupd/internal/usecase/health"
)

const (
	maxURLsPerRequest  = 10_000
	maxBodyBytes       = 8 << 20
	defaultHistorySize = 20
	maxHistorySize     = 500
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Deps are the services behind the API. Scheduler, Snapshots and Documents are optional.
type Deps struct {
	Analyzer  Analyzer
	Cleaner   Cleaner
	Gate      Gate
	Scheduler Scheduler
	Health    HealthChecker
	Snapshots gateuc.SnapshotStore
	Documents gateuc.DocumentScanner
	APIKeys   []string
	Logger    *zap.Logger
}

// Server is the dedupd management API.
type Server struct {
	analyzer      Analyzer
	cleaner       Cleaner
	gate          Gate
	scheduler     Scheduler
	health        HealthChecker
	snapshots     gateuc.SnapshotStore
	documents     gateuc.DocumentScanner
	apiKeys       []string
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(deps Deps) *Server {
	s := &Server{
		analyzer:  deps.Analyzer,
		cleaner:   deps.Cleaner,
		gate:      deps.Gate,
		scheduler: deps.Scheduler,
		health:    deps.Health,
		snapshots: deps.Snapshots,
		documents: deps.Documents,
		apiKeys:   deps.APIKeys,
		logger:    deps.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidConfiguration, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrInvalidURL, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrAlreadyRunning, http.StatusConflict, codeAlreadyRunning),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrStoreUnavailable, http.StatusServiceUnavailable, codeStoreUnavailable),
		sentinelHandler(domain.ErrCacheUnavailable, http.StatusServiceUnavailable, codeCacheUnavailable),
	}
	return s
}

// Router builds the chi router with the full middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(s.apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Get("/analyze", s.Analyze)
	r.Post("/cleanup", s.Cleanup)

	r.Post("/urls/filter", s.FilterURLs)
	r.Post("/urls/scraped", s.MarkScraped)
	r.Get("/gate/stats", s.GateStats)
	if s.documents != nil {
		r.Post("/gate/rebuild", s.RebuildGate)
	}

	if s.scheduler != nil {
		r.Get("/schedule", s.ScheduleStatus)
		r.Get("/schedule/runs", s.ScheduleHistory)
		r.Post("/schedule/run", s.ScheduleRun)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
	return r
}

// Analyze handles GET /analyze.
func (s *Server) Analyze(w http.ResponseWriter, r *http.Request) {
	report, err := s.analyzer.Analyze(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type cleanupRequest struct {
	Types               []string `json:"types"`
	Strategy            string   `json:"strategy"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	DryRun              *bool    `json:"dry_run"`
}

// Cleanup handles POST /cleanup. Omitted dry_run means a dry run.
func (s *Server) Cleanup(w http.ResponseWriter, r *http.Request) {
	var body cleanupRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := domcleanup.NewRequest(body.Types, body.Strategy, body.DryRun, body.SimilarityThreshold)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	r = r.WithContext(logpkg.With(r.Context(),
		zap.Bool("dry_run", req.DryRun),
		zap.String("strategy", string(req.Strategy)),
	))

	report, err := s.cleaner.Cleanup(r.Context(), req)
	if err != nil {
		// An interrupted run still removed documents; return what happened.
		if report != nil && report.Cancelled {
			writeJSON(w, http.StatusOK, report)
			return
		}
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type urlsRequest struct {
	URL  string   `json:"url,omitempty"`
	URLs []string `json:"urls,omitempty"`
}

func (b urlsRequest) all() []string {
	if b.URL == "" {
		return b.URLs
	}
	return append([]string{b.URL}, b.URLs...)
}

type urlsResponse struct {
	URLs []string `json:"urls"`
}

// FilterURLs handles POST /urls/filter.
func (s *Server) FilterURLs(w http.ResponseWriter, r *http.Request) {
	var body urlsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	urls := body.all()
	if len(urls) > maxURLsPerRequest {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			"too many urls: max "+strconv.Itoa(maxURLsPerRequest))
		return
	}
	fresh := s.gate.FilterNewURLs(r.Context(), urls)
	if fresh == nil {
		fresh = []string{}
	}
	writeJSON(w, http.StatusOK, urlsResponse{URLs: fresh})
}

// MarkScraped handles POST /urls/scraped.
func (s *Server) MarkScraped(w http.ResponseWriter, r *http.Request) {
	var body urlsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	urls := body.all()
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "url is required")
		return
	}
	if len(urls) > maxURLsPerRequest {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			"too many urls: max "+strconv.Itoa(maxURLsPerRequest))
		return
	}

	if err := s.gate.MarkURLsScraped(r.Context(), urls); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GateStats handles GET /gate/stats.
func (s *Server) GateStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gate.Stats())
}

type rebuildRequest struct {
	Capacity uint64 `json:"capacity"`
}

// RebuildGate handles POST /gate/rebuild. A zero capacity doubles the current filter.
func (s *Server) RebuildGate(w http.ResponseWriter, r *http.Request) {
	var body rebuildRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	if err := s.gate.Rebuild(r.Context(), body.Capacity, s.documents); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if s.snapshots != nil {
		if err := s.gate.SaveSnapshot(r.Context(), s.snapshots); err != nil {
			logpkg.FromContext(r.Context()).Warn("Filter snapshot not saved", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, s.gate.Stats())
}

type scheduleRunRequest struct {
	Kind string `json:"kind"`
}

// ScheduleRun handles POST /schedule/run.
func (s *Server) ScheduleRun(w http.ResponseWriter, r *http.Request) {
	var body scheduleRunRequest
	if !decodeBody(w, r, &body) {
		return
	}
	kind, err := schedule.ParseKind(body.Kind)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	run, err := s.scheduler.RunOnce(r.Context(), kind)
	if err != nil {
		if run != nil && run.Cleanup != nil && run.Cleanup.Cancelled {
			writeJSON(w, http.StatusOK, run)
			return
		}
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ScheduleStatus handles GET /schedule.
func (s *Server) ScheduleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

// ScheduleHistory handles GET /schedule/runs?limit=N.
func (s *Server) ScheduleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistorySize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, codeValidationFailed, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistorySize)
	}
	runs, err := s.scheduler.History(r.Context(), limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if runs == nil {
		runs = []schedule.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, report)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns the client-facing message of a domain error without exposing internals.
// Validation errors carry their reason; everything else reports the sentinel only.
func safeDomainMessage(err error) string {
	if errors.Is(err, domain.ErrInvalidConfiguration) || errors.Is(err, domain.ErrInvalidURL) {
		return err.Error()
	}
	sentinels := []error{
		domain.ErrAlreadyRunning,
		domain.ErrDocumentNotFound,
		domain.ErrStoreUnavailable,
		domain.ErrCacheUnavailable,
		domain.ErrDeleteFailed,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
