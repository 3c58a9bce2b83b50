package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dedupd/internal/domain"
	"github.com/kailas-cloud/dedupd/internal/domain/bloom"
	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
	"github.com/kailas-cloud/dedupd/internal/domain/gatemode"
	"github.com/kailas-cloud/dedupd/internal/domain/urlnorm"
)

const (
	defaultCapacity       = 1_000_000
	defaultErrorRate      = 0.1
	defaultLookupTimeout  = 200 * time.Millisecond
	defaultRecentCapacity = 100_000
	defaultSaturationWarn = 0.9
	warmBatchSize         = 1000
)

// Config selects the gate policy and sizes its filter.
type Config struct {
	Mode           gatemode.Mode
	Capacity       uint64
	ErrorRate      float64
	LookupTimeout  time.Duration
	RecentCapacity int
	SaturationWarn float64
}

// DefaultConfig returns filter_and_store sized for one million URLs at 10% error.
func DefaultConfig() Config {
	return Config{
		Mode:           gatemode.FilterAndStore,
		Capacity:       defaultCapacity,
		ErrorRate:      defaultErrorRate,
		LookupTimeout:  defaultLookupTimeout,
		RecentCapacity: defaultRecentCapacity,
		SaturationWarn: defaultSaturationWarn,
	}
}

func (c *Config) applyDefaults() {
	if c.Capacity == 0 {
		c.Capacity = defaultCapacity
	}
	if c.ErrorRate == 0 {
		c.ErrorRate = defaultErrorRate
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = defaultLookupTimeout
	}
	if c.RecentCapacity == 0 {
		c.RecentCapacity = defaultRecentCapacity
	}
	if c.SaturationWarn == 0 {
		c.SaturationWarn = defaultSaturationWarn
	}
}

// Metrics are the collectors the gate reports to. Nil fields are skipped.
type Metrics struct {
	Decisions  *prometheus.CounterVec // labels: mode, decision
	Degraded   *prometheus.CounterVec // labels: tier
	Saturation prometheus.Gauge
	Inserted   prometheus.Gauge
}

// Deps are the collaborators of a gate. Filter is an optional restored snapshot.
type Deps struct {
	Store   URLChecker
	Cache   SeenCache
	Filter  *bloom.Filter
	Logger  *zap.Logger
	Metrics Metrics
}

// Gate decides which URLs a crawler still has to fetch.
//
// The membership filter is process-local and guarded by mu; store and cache
// round trips never run under the lock. version counts filter changes so snapshot
// writers can tell whether the file on disk is current.
type Gate struct {
	cfg     Config
	store   URLChecker
	cache   SeenCache
	logger  *zap.Logger
	metrics Metrics

	mu      sync.Mutex
	filter  *bloom.Filter
	recent  *recentSet
	warned  bool
	version uint64

	// saveMu orders snapshot writes: each one is taken and written before the next starts.
	saveMu       sync.Mutex
	savedVersion uint64
	saved        bool
}

// New builds a gate for cfg.Mode.
func New(cfg Config, deps Deps) (*Gate, error) {
	cfg.applyDefaults()
	if !cfg.Mode.IsValid() {
		return nil, domain.InvalidConfig("unknown gate mode %q", cfg.Mode)
	}
	if cfg.Mode.UsesStore() && deps.Store == nil {
		return nil, domain.InvalidConfig("gate mode %s requires a document store", cfg.Mode)
	}
	if cfg.Mode.UsesCache() && deps.Cache == nil {
		return nil, domain.InvalidConfig("gate mode %s requires a seen cache", cfg.Mode)
	}
	if cfg.SaturationWarn < 0 || cfg.SaturationWarn > 1 {
		return nil, domain.InvalidConfig("saturation warn must be in [0, 1], got %v", cfg.SaturationWarn)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gate{
		cfg:     cfg,
		store:   deps.Store,
		cache:   deps.Cache,
		logger:  logger,
		metrics: deps.Metrics,
		recent:  newRecentSet(cfg.RecentCapacity),
	}

	if cfg.Mode.UsesFilter() {
		f := deps.Filter
		if f == nil {
			var err error
			if f, err = bloom.New(cfg.Capacity, cfg.ErrorRate); err != nil {
				return nil, err
			}
		}
		g.filter = f
		// A restored filter already matches its snapshot.
		g.saved = deps.Filter != nil
		g.observeFilter()
	}
	return g, nil
}

// Mode returns the configured policy.
func (g *Gate) Mode() gatemode.Mode { return g.cfg.Mode }

// FilterNewURLs returns the URLs of urls not seen before, in input order.
// Occurrences sharing a normalized URL are admitted at most once; unparsable URLs are dropped.
func (g *Gate) FilterNewURLs(ctx context.Context, urls []string) []string {
	out := make([]string, 0, len(urls))
	batch := make(map[string]struct{}, len(urls))

	for _, raw := range urls {
		key, err := urlnorm.Normalize(raw)
		if err != nil {
			g.logger.Warn("Dropping unparsable URL", zap.String("url", raw), zap.Error(err))
			g.decision("invalid")
			continue
		}
		if _, dup := batch[key]; dup {
			g.decision("reject")
			continue
		}
		batch[key] = struct{}{}

		if g.admit(ctx, key) {
			out = append(out, raw)
			g.decision("admit")
		} else {
			g.decision("reject")
		}
	}
	return out
}

func (g *Gate) admit(ctx context.Context, key string) bool {
	switch g.cfg.Mode {
	case gatemode.Filter:
		hit, _ := g.filterLookup(key)
		return !hit

	case gatemode.Store:
		return !g.storeHas(ctx, key)

	case gatemode.FilterAndStore:
		hit, recent := g.filterLookup(key)
		if !hit {
			return true
		}
		if recent {
			return false
		}
		// Filter hit not confirmed locally: could be a false positive.
		return !g.storeHas(ctx, key)

	case gatemode.CacheAndStore:
		if g.cacheHas(ctx, key) {
			return false
		}
		return !g.storeHas(ctx, key)
	}
	return true
}

func (g *Gate) filterLookup(key string) (hit, recent bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hit = g.filter.MightContain(key)
	if hit {
		recent = g.recent.has(key)
	}
	return hit, recent
}

// storeHas fails open: a lookup error or timeout reports the URL as unseen.
func (g *Gate) storeHas(ctx context.Context, key string) bool {
	lctx, cancel := context.WithTimeout(ctx, g.cfg.LookupTimeout)
	defer cancel()

	ok, err := g.store.ExistsURL(lctx, key)
	if err != nil {
		g.degraded("store", key, err)
		return false
	}
	return ok
}

// cacheHas treats a cache failure as a miss; the store check that follows stays authoritative.
func (g *Gate) cacheHas(ctx context.Context, key string) bool {
	lctx, cancel := context.WithTimeout(ctx, g.cfg.LookupTimeout)
	defer cancel()

	ok, err := g.cache.Contains(lctx, key)
	if err != nil {
		g.degraded("cache", key, err)
		return false
	}
	return ok
}

// MarkURLScraped records a fetched URL in the active tiers. The store write is the crawler's.
func (g *Gate) MarkURLScraped(ctx context.Context, rawURL string) error {
	key, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return err
	}

	if g.cfg.Mode.UsesFilter() {
		g.mu.Lock()
		g.filter.Insert(key)
		g.recent.add(key)
		g.version++
		g.mu.Unlock()
		g.observeFilter()
	}

	if g.cfg.Mode.UsesCache() {
		lctx, cancel := context.WithTimeout(ctx, g.cfg.LookupTimeout)
		defer cancel()
		if err := g.cache.MarkSeen(lctx, key); err != nil {
			g.logger.Warn("Failed to mark URL in seen cache", zap.String("url", key), zap.Error(err))
			if !errors.Is(err, domain.ErrCacheUnavailable) {
				err = fmt.Errorf("%w: %w", domain.ErrCacheUnavailable, err)
			}
			return fmt.Errorf("mark url scraped: %w", err)
		}
	}
	return nil
}

// MarkURLsScraped marks every URL and joins the failures.
func (g *Gate) MarkURLsScraped(ctx context.Context, urls []string) error {
	var errs []error
	for _, u := range urls {
		if err := g.MarkURLScraped(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats is a point-in-time view of the gate.
type Stats struct {
	Mode                gatemode.Mode `json:"mode"`
	Capacity            uint64        `json:"capacity"`
	Inserted            uint64        `json:"inserted"`
	Saturation          float64       `json:"saturation"`
	ConfiguredErrorRate float64       `json:"configured_error_rate"`
	EstimatedFPR        float64       `json:"estimated_false_positive_rate"`
	RecentURLs          int           `json:"recent_urls"`
}

// Stats returns filter statistics. Modes without a filter report zeros.
func (g *Gate) Stats() Stats {
	s := Stats{Mode: g.cfg.Mode}
	if !g.cfg.Mode.UsesFilter() {
		return s
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s.Capacity = g.filter.Capacity()
	s.Inserted = g.filter.Inserted()
	s.Saturation = g.filter.Saturation()
	s.ConfiguredErrorRate = g.filter.ErrorRate()
	s.EstimatedFPR = g.filter.EstimatedFalsePositiveRate()
	s.RecentURLs = g.recent.len()
	return s
}

// Warm loads the URLs already in the store into the filter or the seen cache.
// Returns the number of documents visited.
func (g *Gate) Warm(ctx context.Context, scanner DocumentScanner) (int, error) {
	if !g.cfg.Mode.UsesFilter() && !g.cfg.Mode.UsesCache() {
		return 0, nil
	}
	g.mu.Lock()
	f := g.filter
	g.mu.Unlock()
	return g.warmInto(ctx, scanner, f)
}

func (g *Gate) warmInto(ctx context.Context, scanner DocumentScanner, target *bloom.Filter) (int, error) {
	start := time.Now()
	visited := 0

	err := scanner.Scan(ctx, warmBatchSize, func(docs []domdoc.Document) error {
		keys := make([]string, 0, len(docs))
		for i := range docs {
			key, err := urlnorm.Normalize(docs[i].URL())
			if err != nil {
				continue
			}
			keys = append(keys, key)
		}
		visited += len(docs)

		if target != nil {
			g.mu.Lock()
			for _, k := range keys {
				target.Insert(k)
			}
			g.version++
			g.mu.Unlock()
		}
		if g.cfg.Mode.UsesCache() {
			for _, k := range keys {
				if err := g.cache.MarkSeen(ctx, k); err != nil {
					return fmt.Errorf("warm seen cache: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return visited, fmt.Errorf("warm gate: %w", err)
	}

	g.observeFilter()
	g.logger.Info("Gate warmed from store",
		zap.String("mode", string(g.cfg.Mode)),
		zap.Int("documents", visited),
		zap.Duration("took", time.Since(start)),
	)
	return visited, nil
}

// Rebuild replaces the filter with one sized for capacity (0 doubles the current one)
// and fills it from the store. The old filter keeps serving until the swap; URLs marked
// in the meantime are carried over through the recent set.
func (g *Gate) Rebuild(ctx context.Context, capacity uint64, scanner DocumentScanner) error {
	if !g.cfg.Mode.UsesFilter() {
		return domain.InvalidConfig("gate mode %s has no membership filter", g.cfg.Mode)
	}

	g.mu.Lock()
	if capacity == 0 {
		capacity = g.filter.Capacity() * 2
	}
	errorRate := g.filter.ErrorRate()
	g.mu.Unlock()

	next, err := bloom.New(capacity, errorRate)
	if err != nil {
		return err
	}
	if _, err := g.warmInto(ctx, scanner, next); err != nil {
		return err
	}

	g.mu.Lock()
	g.recent.each(next.Insert)
	g.filter = next
	g.cfg.Capacity = capacity
	g.warned = false
	g.version++
	g.mu.Unlock()

	g.observeFilter()
	g.logger.Info("Membership filter rebuilt", zap.Uint64("capacity", capacity))
	return nil
}

// Snapshot serializes the membership filter.
func (g *Gate) Snapshot() ([]byte, error) {
	if !g.cfg.Mode.UsesFilter() {
		return nil, domain.InvalidConfig("gate mode %s has no membership filter", g.cfg.Mode)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.filter.MarshalBinary()
}

// SaveSnapshot writes the serialized filter to s unless the last write is still current.
// Concurrent calls are serialized, so an older snapshot never replaces a newer one.
// Modes without a filter are a no-op.
func (g *Gate) SaveSnapshot(ctx context.Context, s SnapshotStore) error {
	if !g.cfg.Mode.UsesFilter() {
		return nil
	}
	g.saveMu.Lock()
	defer g.saveMu.Unlock()

	g.mu.Lock()
	version := g.version
	if g.saved && version == g.savedVersion {
		g.mu.Unlock()
		return nil
	}
	data, err := g.filter.MarshalBinary()
	g.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.Save(ctx, data); err != nil {
		return fmt.Errorf("save filter snapshot: %w", err)
	}
	g.savedVersion = version
	g.saved = true
	return nil
}

// Dirty reports whether the filter changed since the last successful snapshot.
func (g *Gate) Dirty() bool {
	if !g.cfg.Mode.UsesFilter() {
		return false
	}
	g.saveMu.Lock()
	defer g.saveMu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.saved || g.version != g.savedVersion
}

// RunSnapshots saves the filter every interval while it has unsaved changes, until ctx
// is done. The final write on shutdown is the caller's.
func (g *Gate) RunSnapshots(ctx context.Context, s SnapshotStore, interval time.Duration) error {
	if !g.cfg.Mode.UsesFilter() || interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := g.SaveSnapshot(ctx, s); err != nil && ctx.Err() == nil {
				g.logger.Warn("Periodic filter snapshot failed", zap.Error(err))
			}
		}
	}
}

// RestoreFilter decodes a snapshot and accepts it only if it was built with the
// configured capacity and error rate. A mismatch means the operator re-provisioned.
func RestoreFilter(data []byte, cfg Config) (*bloom.Filter, error) {
	cfg.applyDefaults()
	f, err := bloom.FromSnapshot(data)
	if err != nil {
		return nil, err
	}
	if f.Capacity() != cfg.Capacity || f.ErrorRate() != cfg.ErrorRate {
		return nil, domain.InvalidConfig(
			"snapshot filter is %d@%v, configured %d@%v",
			f.Capacity(), f.ErrorRate(), cfg.Capacity, cfg.ErrorRate,
		)
	}
	return f, nil
}

func (g *Gate) observeFilter() {
	g.mu.Lock()
	if g.filter == nil {
		g.mu.Unlock()
		return
	}
	sat := g.filter.Saturation()
	inserted := g.filter.Inserted()
	warn := sat >= g.cfg.SaturationWarn && !g.warned
	if warn {
		g.warned = true
	}
	g.mu.Unlock()

	if g.metrics.Saturation != nil {
		g.metrics.Saturation.Set(sat)
	}
	if g.metrics.Inserted != nil {
		g.metrics.Inserted.Set(float64(inserted))
	}
	if warn {
		g.logger.Warn("Membership filter near capacity, rebuild with a larger capacity",
			zap.Float64("saturation", sat),
			zap.Uint64("inserted", inserted),
		)
	}
}

func (g *Gate) decision(d string) {
	if g.metrics.Decisions != nil {
		g.metrics.Decisions.WithLabelValues(string(g.cfg.Mode), d).Inc()
	}
}

func (g *Gate) degraded(tier, key string, err error) {
	g.logger.Warn("Gate lookup degraded",
		zap.String("tier", tier),
		zap.String("url", key),
		zap.Error(err),
	)
	if g.metrics.Degraded != nil {
		g.metrics.Degraded.WithLabelValues(tier).Inc()
	}
}
