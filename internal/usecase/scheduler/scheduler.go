package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dedupd/internal/domain"
	"github.com/kailas-cloud/dedupd/internal/domain/analysis"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	"github.com/kailas-cloud/dedupd/internal/domain/schedule"
)

// State is the scheduler lifecycle state.
type State string

// Scheduler states.
const (
	Idle    State = "idle"
	Waiting State = "waiting_next_trigger"
	Running State = "running"
)

// ManualTrigger names runs started through RunOnce.
const ManualTrigger = "manual"

// Run statuses.
const (
	statusOK        = "ok"
	statusPartial   = "partial"
	statusError     = "error"
	statusCancelled = "cancelled"
)

// Run is the outcome of one scheduled or manual run.
type Run struct {
	ID         string             `json:"id"`
	Kind       schedule.Kind      `json:"kind"`
	Trigger    string             `json:"trigger"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Analysis   *analysis.Report   `json:"analysis,omitempty"`
	Cleanup    *domcleanup.Report `json:"cleanup,omitempty"`
}

// Metrics are the collectors the scheduler reports to. Nil fields are skipped.
type Metrics struct {
	Runs    *prometheus.CounterVec // labels: kind, trigger, status
	Skipped *prometheus.CounterVec // labels: reason
}

// Deps are the scheduler collaborators. RunLog, Logger and Clock are optional.
type Deps struct {
	Analyzer Analyzer
	Cleaner  Cleaner
	RunLog   RunLog
	Logger   *zap.Logger
	Metrics  Metrics
	Clock    func() time.Time
}

// Scheduler runs analysis and cleanup on cadences and thresholds, one run at a time.
type Scheduler struct {
	analyzer Analyzer
	cleaner  Cleaner
	runlog   RunLog
	logger   *zap.Logger
	metrics  Metrics
	now      func() time.Time
	reloaded chan struct{}

	mu          sync.Mutex
	cfg         *schedule.Config
	state       State
	next        map[string]time.Time
	lastCheck   map[string]time.Time
	lastCleanup time.Time
	runStart    time.Time
	runEnd      time.Time
}

// New creates a scheduler with a validated config.
func New(cfg *schedule.Config, deps Deps) (*Scheduler, error) {
	if deps.Analyzer == nil || deps.Cleaner == nil {
		return nil, domain.InvalidConfig("scheduler requires an analyzer and a cleaner")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		analyzer:  deps.Analyzer,
		cleaner:   deps.Cleaner,
		runlog:    deps.RunLog,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       deps.Clock,
		reloaded:  make(chan struct{}, 1),
		cfg:       cfg,
		state:     Idle,
		lastCheck: make(map[string]time.Time),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.next = planCadences(cfg, s.now())
	return s, nil
}

func planCadences(cfg *schedule.Config, from time.Time) map[string]time.Time {
	next := make(map[string]time.Time, len(cfg.Triggers))
	for _, tr := range cfg.Triggers {
		if tr.Cadence != nil {
			next[tr.Name] = tr.Cadence.Next(from, cfg.Location())
		}
	}
	return next
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the active configuration.
func (s *Scheduler) Config() *schedule.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Reload swaps the configuration. A run in progress keeps the config it started with.
func (s *Scheduler) Reload(cfg *schedule.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.next = planCadences(cfg, s.now())
	s.lastCheck = make(map[string]time.Time)
	s.mu.Unlock()

	select {
	case s.reloaded <- struct{}{}:
	default:
	}
	s.logger.Info("Schedule reloaded", zap.Int("triggers", len(cfg.Triggers)))
	return nil
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State       State                `json:"state"`
	LastCleanup *time.Time           `json:"last_cleanup,omitempty"`
	NextRuns    map[string]time.Time `json:"next_runs"`
}

// Status returns the state, the last cleanup time and the next cadence fire times.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, NextRuns: make(map[string]time.Time, len(s.next))}
	for name, t := range s.next {
		st.NextRuns[name] = t
	}
	if !s.lastCleanup.IsZero() {
		t := s.lastCleanup
		st.LastCleanup = &t
	}
	return st
}

// History returns up to n recent runs, newest first.
func (s *Scheduler) History(ctx context.Context, n int) ([]schedule.RunRecord, error) {
	if s.runlog == nil {
		return nil, nil
	}
	return s.runlog.History(ctx, n)
}

// RunOnce starts a manual run of kind. Returns domain.ErrAlreadyRunning while another run is active.
func (s *Scheduler) RunOnce(ctx context.Context, kind schedule.Kind) (*Run, error) {
	if !kind.IsValid() {
		return nil, domain.InvalidConfig("unknown run kind %q", kind)
	}
	return s.run(ctx, kind, ManualTrigger)
}

// Run evaluates triggers every poll interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.restoreLastCleanup(ctx)

	ticker := time.NewTicker(s.Config().PollInterval)
	defer ticker.Stop()
	s.logger.Info("Scheduler started", zap.Duration("poll_interval", s.Config().PollInterval))

	for {
		s.setState(Waiting)
		select {
		case <-ctx.Done():
			s.setState(Idle)
			s.logger.Info("Scheduler stopped")
			return nil
		case <-s.reloaded:
			ticker.Reset(s.Config().PollInterval)
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) restoreLastCleanup(ctx context.Context) {
	if s.runlog == nil {
		return
	}
	t, ok, err := s.runlog.LastCleanup(ctx)
	if err != nil {
		s.logger.Warn("Failed to load last cleanup time", zap.Error(err))
		return
	}
	if ok {
		s.mu.Lock()
		if t.After(s.lastCleanup) {
			s.lastCleanup = t
		}
		s.mu.Unlock()
	}
}

// Tick fires every trigger due at the current time, sequentially.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	for _, tr := range cfg.Triggers {
		if ctx.Err() != nil {
			return
		}
		var fire bool
		if tr.Cadence != nil {
			fire = s.cadenceDue(cfg, tr, now)
		} else {
			fire = s.thresholdDue(ctx, cfg, tr, now)
		}
		if !fire {
			continue
		}
		if _, err := s.run(ctx, tr.Kind, tr.Name); err != nil && !errors.Is(err, domain.ErrAlreadyRunning) {
			s.logger.Error("Scheduled run failed",
				zap.String("trigger", tr.Name),
				zap.String("kind", string(tr.Kind)),
				zap.Error(err),
			)
		}
	}
}

// cadenceDue advances a due cadence. A due time that fell inside a run window is
// dropped rather than replayed.
func (s *Scheduler) cadenceDue(cfg *schedule.Config, tr schedule.Trigger, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	due, ok := s.next[tr.Name]
	if !ok || now.Before(due) {
		return false
	}
	s.next[tr.Name] = tr.Cadence.Next(now, cfg.Location())

	if s.state == Running || (due.After(s.runStart) && !due.After(s.runEnd)) {
		s.skip("running")
		return false
	}
	return true
}

func (s *Scheduler) thresholdDue(ctx context.Context, cfg *schedule.Config, tr schedule.Trigger, now time.Time) bool {
	s.mu.Lock()
	last := s.lastCleanup
	checked, wasChecked := s.lastCheck[tr.Name]
	s.mu.Unlock()

	if !last.IsZero() && now.Sub(last) < tr.Threshold.MinInterval {
		s.skip("interval")
		return false
	}
	if wasChecked && now.Sub(checked) < cfg.ThresholdCheckInterval {
		return false
	}

	s.mu.Lock()
	s.lastCheck[tr.Name] = now
	s.mu.Unlock()

	report, err := s.analyzer.Analyze(ctx)
	if err != nil {
		s.logger.Warn("Threshold check failed", zap.String("trigger", tr.Name), zap.Error(err))
		return false
	}
	pct := report.DuplicatePercent()
	if !tr.Threshold.Exceeded(pct, report.TotalDocuments) {
		return false
	}
	s.logger.Info("Cleanup threshold exceeded",
		zap.String("trigger", tr.Name),
		zap.Float64("duplicate_percent", pct),
		zap.Int("documents", report.TotalDocuments),
	)
	return true
}

func (s *Scheduler) run(ctx context.Context, kind schedule.Kind, trigger string) (*Run, error) {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		s.skip("running")
		return nil, domain.ErrAlreadyRunning
	}
	prev := s.state
	s.state = Running
	cfg := s.cfg
	start := s.now()
	s.runStart, s.runEnd = start, time.Time{}
	s.mu.Unlock()

	run := &Run{ID: uuid.NewString(), Kind: kind, Trigger: trigger, StartedAt: start}
	log := s.logger.With(
		zap.String("run_id", run.ID),
		zap.String("kind", string(kind)),
		zap.String("trigger", trigger),
	)
	log.Info("Run started")

	err := s.execute(ctx, cfg, run)

	run.FinishedAt = s.now()
	s.mu.Lock()
	s.runEnd = run.FinishedAt
	if prev == Running {
		prev = Idle
	}
	s.state = prev
	recordCleanup := kind != schedule.Analysis
	if recordCleanup {
		s.lastCleanup = start
	}
	s.mu.Unlock()

	status := runStatus(run, err)
	s.persist(ctx, run, status, err, recordCleanup)
	if s.metrics.Runs != nil {
		s.metrics.Runs.WithLabelValues(string(kind), trigger, status).Inc()
	}
	s.notify(log, run, status, err)
	return run, err
}

func (s *Scheduler) execute(ctx context.Context, cfg *schedule.Config, run *Run) error {
	req, hasCleanup, err := cfg.Request(run.Kind)
	if err != nil {
		return err
	}
	if !hasCleanup {
		report, err := s.analyzer.Analyze(ctx)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		run.Analysis = report
		return nil
	}
	report, err := s.cleaner.Cleanup(ctx, req)
	run.Cleanup = report
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

func runStatus(run *Run, err error) string {
	switch {
	case run.Cleanup != nil && run.Cleanup.Cancelled:
		return statusCancelled
	case err != nil:
		return statusError
	case run.Cleanup != nil && run.Cleanup.Errors > 0:
		return statusPartial
	}
	return statusOK
}

// persist records the run. It uses a detached context so a shutdown does not lose the guard time.
func (s *Scheduler) persist(ctx context.Context, run *Run, status string, runErr error, recordCleanup bool) {
	if s.runlog == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if recordCleanup {
		if err := s.runlog.SetLastCleanup(pctx, run.StartedAt); err != nil {
			s.logger.Warn("Failed to persist last cleanup time", zap.Error(err))
		}
	}

	rec := schedule.RunRecord{
		ID:         run.ID,
		Kind:       string(run.Kind),
		Trigger:    run.Trigger,
		Status:     status,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	if run.Cleanup != nil {
		rec.Removed = run.Cleanup.TotalRemoved
		rec.Planned = len(run.Cleanup.PlannedIDs)
		rec.Errors = run.Cleanup.Errors
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := s.runlog.Append(pctx, rec); err != nil {
		s.logger.Warn("Failed to append run history", zap.Error(err))
	}
}

// notify emits the run summary line operators alert on.
func (s *Scheduler) notify(log *zap.Logger, run *Run, status string, err error) {
	fields := []zap.Field{
		zap.String("status", status),
		zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)),
	}
	if run.Analysis != nil {
		fields = append(fields,
			zap.Int("documents", run.Analysis.TotalDocuments),
			zap.Int("total_duplicates", run.Analysis.TotalDuplicates),
			zap.Float64("efficiency_percent", run.Analysis.EfficiencyPercent),
			zap.Strings("recommendations", run.Analysis.Recommendations),
		)
	}
	if run.Cleanup != nil {
		types := make([]string, len(run.Cleanup.TypesRequested))
		for i, t := range run.Cleanup.TypesRequested {
			types[i] = string(t)
		}
		sort.Strings(types)
		fields = append(fields,
			zap.Strings("types", types),
			zap.Bool("dry_run", run.Cleanup.DryRun),
			zap.Int("planned", len(run.Cleanup.PlannedIDs)),
			zap.Int("removed", run.Cleanup.TotalRemoved),
			zap.Int("errors", run.Cleanup.Errors),
		)
	}
	if err != nil {
		log.Error("Run finished", append(fields, zap.Error(err))...)
		return
	}
	log.Info("Run finished", fields...)
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	if s.state != Running {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Scheduler) skip(reason string) {
	if s.metrics.Skipped != nil {
		s.metrics.Skipped.WithLabelValues(reason).Inc()
	}
}
