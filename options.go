package dedupd

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver     string // "valkey", "redis" or "sqlite"
	addrs      []string
	password   string
	sqlitePath string
	keyPrefix  string

	gateMode       string
	filterCapacity uint64
	errorRate      float64
	seenTTL        time.Duration
	batchSize      int

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

// WithValkey configures the client to use a Valkey instance as the document store.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithRedis configures the client to use a Redis instance as the document store.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithSQLite stores documents in an embedded SQLite database at path.
// Use ":memory:" for a throwaway store.
func WithSQLite(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "sqlite"
		c.sqlitePath = path
	})
}

// WithKeyPrefix namespaces Redis keys. Default: "dedupd:".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.keyPrefix = prefix
	})
}

// WithGateMode selects the gate policy: filter, store, filter_and_store or cache_and_store.
// Default: filter_and_store.
func WithGateMode(mode string) Option {
	return optionFunc(func(c *clientConfig) {
		c.gateMode = mode
	})
}

// WithFilterCapacity sizes the membership filter. Defaults: 1,000,000 URLs at a 10% error rate.
func WithFilterCapacity(capacity uint64, errorRate float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.filterCapacity = capacity
		c.errorRate = errorRate
	})
}

// WithSeenTTL expires entries of the shared seen cache. Zero keeps them forever.
func WithSeenTTL(ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.seenTTL = ttl
	})
}

// WithBatchSize sets how many documents a store scan reads at a time. Default: 500.
func WithBatchSize(size int) Option {
	return optionFunc(func(c *clientConfig) {
		c.batchSize = size
	})
}

// WithLogger enables structured logging. Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers client metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
