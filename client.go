package dedupd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbRedis "github.com/kailas-cloud/dedupd/internal/db/redis"
	dbSQLite "github.com/kailas-cloud/dedupd/internal/db/sqlite"
	"github.com/kailas-cloud/dedupd/internal/domain"
	domcleanup "github.com/kailas-cloud/dedupd/internal/domain/cleanup"
	domdoc "github.com/kailas-cloud/dedupd/internal/domain/document"
	"github.com/kailas-cloud/dedupd/internal/domain/gatemode"
	documentrepo "github.com/kailas-cloud/dedupd/internal/repository/document"
	"github.com/kailas-cloud/dedupd/internal/repository/seen"
	analyzeruc "github.com/kailas-cloud/dedupd/internal/usecase/analyzer"
	cleanupuc "github.com/kailas-cloud/dedupd/internal/usecase/cleanup"
	gateuc "github.com/kailas-cloud/dedupd/internal/usecase/gate"
)

const defaultReadinessTimeout = 10 * time.Second

// documentStore is what the client needs from either backend.
type documentStore interface {
	Put(ctx context.Context, doc domdoc.Document) error
	Scan(ctx context.Context, batchSize int, fn func([]domdoc.Document) error) error
	Delete(ctx context.Context, id string) error
	ExistsURL(ctx context.Context, url string) (bool, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Client is the dedupd SDK entry point.
type Client struct {
	docs     documentStore
	ping     pinger
	close    func()
	gate     *gateuc.Gate
	analyzer *analyzeruc.Service
	cleaner  *cleanupuc.Service
	obs      *observer
}

// New creates a Client and connects to the document store.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.driver == "" {
		return nil, errors.New("dedupd: document store required (use WithRedis, WithValkey or WithSQLite)")
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	c := &Client{obs: obs}
	var cache gateuc.SeenCache
	switch cfg.driver {
	case "redis", "valkey":
		store, err := dbRedis.NewStore(dbRedis.Config{Addrs: cfg.addrs, Password: cfg.password})
		if err != nil {
			return nil, fmt.Errorf("dedupd: create %s store: %w", cfg.driver, err)
		}
		if err := store.WaitForReady(context.Background(), defaultReadinessTimeout); err != nil {
			store.Close()
			return nil, fmt.Errorf("dedupd: database not ready: %w", err)
		}
		prefix := cfg.keyPrefix
		if prefix == "" {
			prefix = domain.KeyPrefix
		}
		c.docs = documentrepo.New(store, prefix)
		c.ping = store
		c.close = store.Close
		cache = seen.New(store, prefix, cfg.seenTTL, nil, obs.logger)
	case "sqlite":
		path := cfg.sqlitePath
		if path == "" {
			path = dbSQLite.MemoryPath
		}
		store, err := dbSQLite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("dedupd: open sqlite store: %w", err)
		}
		c.docs = store
		c.ping = store
		c.close = func() { _ = store.Close() }
	default:
		return nil, fmt.Errorf("dedupd: unknown driver %q", cfg.driver)
	}

	if err := c.wire(cfg, cache); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) wire(cfg *clientConfig, cache gateuc.SeenCache) error {
	mode := gatemode.FilterAndStore
	if cfg.gateMode != "" {
		mode = gatemode.Mode(cfg.gateMode)
	}
	g, err := gateuc.New(gateuc.Config{
		Mode:      mode,
		Capacity:  cfg.filterCapacity,
		ErrorRate: cfg.errorRate,
	}, gateuc.Deps{Store: c.docs, Cache: cache, Logger: c.obs.logger})
	if err != nil {
		return fmt.Errorf("dedupd: %w", err)
	}
	c.gate = g

	c.analyzer = analyzeruc.New(c.docs, analyzeruc.Config{BatchSize: cfg.batchSize}, c.obs.logger)
	c.cleaner = cleanupuc.New(c.analyzer, c.docs, cleanupuc.Config{}, cleanupuc.Metrics{}, c.obs.logger)
	return nil
}

// Close releases the store connection.
func (c *Client) Close() {
	if c.close != nil {
		c.close()
		c.close = nil
	}
}

// Ping checks store connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ping.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// FilterNewURLs returns the URLs not seen before, in input order. Lookup failures admit the URL.
func (c *Client) FilterNewURLs(ctx context.Context, urls []string) []string {
	start := time.Now()
	admitted := c.gate.FilterNewURLs(ctx, urls)
	c.obs.observe("filter", start, nil)
	return admitted
}

// MarkScraped records urls as fetched so later filtering rejects them.
func (c *Client) MarkScraped(ctx context.Context, urls ...string) (err error) {
	defer func(start time.Time) { c.obs.observe("mark_scraped", start, err) }(time.Now())
	return c.gate.MarkURLsScraped(ctx, urls)
}

// AddDocument stores a captured page.
func (c *Client) AddDocument(ctx context.Context, d Document) (err error) {
	defer func(start time.Time) { c.obs.observe("add_document", start, err) }(time.Now())
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CapturedAt.IsZero() {
		d.CapturedAt = time.Now()
	}
	doc, err := domdoc.New(d.ID, d.URL, d.Content, d.CapturedAt)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	return c.docs.Put(ctx, doc)
}

// Analyze scans the store and reports duplication without modifying it.
func (c *Client) Analyze(ctx context.Context) (_ *AnalysisReport, err error) {
	defer func(start time.Time) { c.obs.observe("analyze", start, err) }(time.Now())
	return c.analyzer.Analyze(ctx)
}

// Cleanup removes duplicates as requested. A cancelled run returns its partial report with the error.
func (c *Client) Cleanup(ctx context.Context, r CleanupRequest) (_ *CleanupReport, err error) {
	defer func(start time.Time) { c.obs.observe("cleanup", start, err) }(time.Now())

	types := r.Types
	if len(types) == 0 {
		types = []string{string(domcleanup.URL)}
	}
	dryRun := !r.Execute
	var threshold *float64
	if r.SimilarityThreshold != 0 {
		threshold = &r.SimilarityThreshold
	}
	req, err := domcleanup.NewRequest(types, r.Strategy, &dryRun, threshold)
	if err != nil {
		return nil, err
	}
	return c.cleaner.Cleanup(ctx, req)
}

// GateStats reports the gate mode and membership filter load.
func (c *Client) GateStats() GateStats {
	return c.gate.Stats()
}
