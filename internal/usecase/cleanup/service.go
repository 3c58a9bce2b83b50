package cleanup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/dedupd/internal/domain"
	"github.com/kailas-cloud/dedupd/internal/domain/batch"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	"github.com/kailas-cloud/dedupd/internal/usecase/analyzer"
)

const (
	defaultSimilarMinLength = 100
	defaultSimilarWindow    = 50
)

// Config tunes planning and execution.
type Config struct {
	// SimilarMinLength excludes short pages from similarity comparison.
	SimilarMinLength int
	// SimilarWindow caps the candidates each document is compared with.
	SimilarWindow int
	// DeletesPerSecond throttles live deletes; 0 disables throttling.
	DeletesPerSecond float64
	DeleteBurst      int
}

// Metrics are the collectors a run reports to. Nil fields are skipped.
type Metrics struct {
	Removed  *prometheus.CounterVec // labels: type
	Errors   prometheus.Counter
	Duration *prometheus.HistogramVec // labels: dry_run
}

// Service plans and executes duplicate removal.
type Service struct {
	collector Collector
	deleter   Deleter
	cfg       Config
	limiter   *rate.Limiter
	metrics   Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a cleanup engine.
func New(collector Collector, deleter Deleter, cfg Config, metrics Metrics, logger *zap.Logger) *Service {
	if cfg.SimilarMinLength <= 0 {
		cfg.SimilarMinLength = defaultSimilarMinLength
	}
	if cfg.SimilarWindow <= 0 {
		cfg.SimilarWindow = defaultSimilarWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		collector: collector,
		deleter:   deleter,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
	if cfg.DeletesPerSecond > 0 {
		burst := cfg.DeleteBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.DeletesPerSecond), burst)
	}
	return s
}

// Cleanup plans removals for req and, unless req.DryRun, deletes them by id.
//
// A failed delete is counted and the run continues. On cancellation the run stops
// between documents and returns the partial report together with the context error.
func (s *Service) Cleanup(ctx context.Context, req domcleanup.Request) (*domcleanup.Report, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	start := time.Now()
	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID), zap.Bool("dry_run", req.DryRun))

	g, err := s.collector.Collect(ctx, analyzer.CollectOptions{
		WithContent:      req.Has(domcleanup.Similar),
		ContentMinLength: s.cfg.SimilarMinLength,
	})
	if err != nil {
		return nil, err
	}

	pl := planner{
		strategy:      req.Strategy,
		threshold:     req.SimilarityThreshold,
		similarMinLen: s.cfg.SimilarMinLength,
		window:        s.cfg.SimilarWindow,
	}
	plan := pl.build(g, req.Types)
	ids := plan.IDs()

	report := &domcleanup.Report{
		RunID:               runID,
		TypesRequested:      req.Types,
		Strategy:            req.Strategy,
		DryRun:              req.DryRun,
		DocumentsScanned:    g.Scanned,
		PlannedByType:       plan.Counts(),
		PlannedIDs:          ids,
		RemovedByType:       make(map[domcleanup.Type]int),
		SimilarityThreshold: req.SimilarityThreshold,
	}
	log.Info("Cleanup planned",
		zap.Int("documents_scanned", g.Scanned),
		zap.Int("planned", len(ids)),
	)

	var runErr error
	if req.DryRun {
		report.DocumentsProcessed = len(ids)
	} else {
		runErr = s.execute(ctx, plan, ids, report, log)
	}

	report.GeneratedAt = s.now().UTC()
	s.observeDuration(req.DryRun, time.Since(start))
	log.Info("Cleanup finished",
		zap.Int("processed", report.DocumentsProcessed),
		zap.Int("removed", report.TotalRemoved),
		zap.Int("errors", report.Errors),
		zap.Bool("cancelled", report.Cancelled),
		zap.Duration("took", time.Since(start)),
	)
	return report, runErr
}

func (s *Service) execute(
	ctx context.Context,
	plan *Plan,
	ids []string,
	report *domcleanup.Report,
	log *zap.Logger,
) error {
	results := make([]batch.Result, 0, len(ids))
	var stopErr error

	for _, id := range ids {
		if stopErr = ctx.Err(); stopErr != nil {
			break
		}
		if s.limiter != nil {
			if stopErr = s.limiter.Wait(ctx); stopErr != nil {
				break
			}
		}

		// A started delete runs to completion so no document is left half removed.
		r := s.deleteOne(context.WithoutCancel(ctx), id)
		results = append(results, r)
		report.DocumentsProcessed++

		if !r.Done() {
			log.Warn("Delete failed", zap.String("id", id), zap.Error(r.Err()))
			continue
		}
		t := plan.TypeOf(id)
		report.RemovedByType[t]++
		if s.metrics.Removed != nil {
			s.metrics.Removed.WithLabelValues(string(t)).Inc()
		}
	}

	sum := batch.Summarize(results)
	report.TotalRemoved = sum.OK + sum.Gone
	report.Errors = sum.Failed
	if s.metrics.Errors != nil && sum.Failed > 0 {
		s.metrics.Errors.Add(float64(sum.Failed))
	}

	if stopErr != nil {
		report.Cancelled = true
		return fmt.Errorf("cleanup interrupted after %d of %d documents: %w",
			report.DocumentsProcessed, len(ids), stopErr)
	}
	return nil
}

func (s *Service) deleteOne(ctx context.Context, id string) batch.Result {
	err := s.deleter.Delete(ctx, id)
	switch {
	case err == nil:
		return batch.NewOK(id)
	case errors.Is(err, domain.ErrDocumentNotFound):
		return batch.NewGone(id)
	default:
		return batch.NewError(id, errors.Join(domain.ErrDeleteFailed, err))
	}
}

func (s *Service) observeDuration(dryRun bool, d time.Duration) {
	if s.metrics.Duration != nil {
		s.metrics.Duration.WithLabelValues(strconv.FormatBool(dryRun)).Observe(d.Seconds())
	}
}

// validate re-checks a request that may not have come through domcleanup.NewRequest.
func validate(req domcleanup.Request) error {
	if len(req.Types) == 0 {
		return domain.InvalidConfig("at least one cleanup type is required")
	}
	for _, t := range req.Types {
		if !t.IsValid() {
			return domain.InvalidConfig("unknown cleanup type %q", t)
		}
	}
	if !req.Strategy.IsValid() {
		return domain.InvalidConfig("unknown retention strategy %q", req.Strategy)
	}
	if req.SimilarityThreshold < 0 || req.SimilarityThreshold > 1 {
		return domain.InvalidConfig("similarity threshold must be in [0, 1], got %v", req.SimilarityThreshold)
	}
	return nil
}
