package analyzer

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dedupd/internal/domain/analysis"
)

const (
	defaultBatchSize        = 500
	defaultMinContentLength = 50
)

// Config tunes the analyzer.
type Config struct {
	BatchSize int
	// MinContentLength excludes short pages (error stubs, empty shells) from content grouping.
	MinContentLength int
	Thresholds       analysis.Thresholds
}

// DefaultConfig returns the stock analyzer settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:        defaultBatchSize,
		MinContentLength: defaultMinContentLength,
		Thresholds:       analysis.DefaultThresholds(),
	}
}

// Service measures duplication in the document store without modifying it.
type Service struct {
	docs   DocumentScanner
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates an analyzer. Zero config fields take their defaults.
func New(docs DocumentScanner, cfg Config, logger *zap.Logger) *Service {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = def.MinContentLength
	}
	if cfg.Thresholds == (analysis.Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.Thresholds.TopURLs <= 0 {
		cfg.Thresholds.TopURLs = def.Thresholds.TopURLs
	}
	if cfg.Thresholds.RapidWindow <= 0 {
		cfg.Thresholds.RapidWindow = def.Thresholds.RapidWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{docs: docs, cfg: cfg, logger: logger, now: time.Now}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Analyze scans the store and reports URL and content duplication.
func (s *Service) Analyze(ctx context.Context) (*analysis.Report, error) {
	start := time.Now()
	g, err := s.Collect(ctx, CollectOptions{})
	if err != nil {
		return nil, err
	}

	r := Summarize(g, s.cfg.Thresholds)
	r.GeneratedAt = s.now().UTC()

	s.logger.Info("Duplicate analysis finished",
		zap.Int("documents", r.TotalDocuments),
		zap.Int("unique_urls", r.UniqueURLs),
		zap.Int("total_duplicates", r.TotalDuplicates),
		zap.Int("errors", r.Errors),
		zap.Float64("efficiency_percent", r.EfficiencyPercent),
		zap.Duration("took", time.Since(start)),
	)
	return r, nil
}

// Summarize builds a report from a grouping. GeneratedAt is left for the caller.
func Summarize(g *Grouping, t analysis.Thresholds) *analysis.Report {
	r := &analysis.Report{
		TotalDocuments:     g.Scanned,
		Errors:             g.Errors,
		DuplicateURLGroups: len(g.URLGroups),
	}

	urls := make(map[string]struct{}, len(g.Documents))
	for i := range g.Documents {
		urls[g.Documents[i].URL] = struct{}{}
	}
	r.UniqueURLs = len(urls)

	top := make([]analysis.URLCount, 0, len(g.URLGroups))
	for i := range g.URLGroups {
		grp := &g.URLGroups[i]
		r.DuplicateURLCount += len(grp.Members) - 1
		top = append(top, analysis.URLCount{URL: grp.Key, Count: len(grp.Members)})
		countTemporal(&r.Temporal, grp.Members, t.RapidWindow)
	}

	// Content duplicates only count extra distinct URLs; same-URL copies are URL duplicates.
	for i := range g.ContentBuckets {
		distinct := g.ContentBuckets[i].DistinctURLs()
		if distinct < 2 {
			continue
		}
		r.DuplicateContentGroups++
		r.ContentDuplicates += distinct - 1
	}
	r.TotalDuplicates = r.DuplicateURLCount + r.ContentDuplicates
	r.EfficiencyPercent = analysis.Efficiency(r.UniqueURLs, r.TotalDocuments)

	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].URL < top[j].URL
	})
	if len(top) > t.TopURLs {
		top = top[:t.TopURLs]
	}
	r.TopDuplicateURLs = top

	r.Recommendations = analysis.Recommend(r, t)
	return r
}

// countTemporal classifies one URL group by how its captures cluster.
func countTemporal(t *analysis.Temporal, members []Member, rapid time.Duration) {
	times := make([]time.Time, len(members))
	for i := range members {
		times[i] = members[i].CapturedAt.UTC()
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	days := make(map[string]struct{}, len(times))
	hours := make(map[string]struct{}, len(times))
	isRapid := false
	for i, ts := range times {
		days[ts.Format(time.DateOnly)] = struct{}{}
		hours[ts.Format("2006-01-02T15")] = struct{}{}
		if i > 0 && ts.Sub(times[i-1]) < rapid {
			isRapid = true
		}
	}
	if len(days) < len(times) {
		t.SameDay++
	}
	if len(hours) < len(times) {
		t.SameHour++
	}
	if isRapid {
		t.Rapid++
	}
}
