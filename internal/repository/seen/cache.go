// Package seen is the shared exact set of URLs already handed to crawlers.
package seen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dedupd/internal/domain"
	"github.com/kailas-cloud/dedupd/internal/domain/urlnorm"
)

// store is the consumer interface for the seen cache (ISP).
type store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache is an exact seen-set shared by every crawler process through Redis.
type Cache struct {
	store      store
	prefix     string
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a seen cache. ttl 0 keeps entries forever.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"/"error"), passed explicitly.
func New(
	s store,
	prefix string,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *Cache {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Cache{
		store:      s,
		prefix:     prefix + "seen:",
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Contains reports whether url was marked seen.
func (c *Cache) Contains(ctx context.Context, url string) (bool, error) {
	key, err := c.key(url)
	if err != nil {
		return false, err
	}
	ok, err := c.store.Exists(ctx, key)
	if err != nil {
		c.inc("error")
		return false, fmt.Errorf("seen lookup: %w: %w", domain.ErrCacheUnavailable, err)
	}
	if ok {
		c.inc("hit")
	} else {
		c.inc("miss")
	}
	return ok, nil
}

// MarkSeen records url. Marking twice refreshes the TTL.
func (c *Cache) MarkSeen(ctx context.Context, url string) error {
	key, err := c.key(url)
	if err != nil {
		return err
	}
	if c.ttl > 0 {
		err = c.store.SetWithTTL(ctx, key, []byte("1"), c.ttl)
	} else {
		err = c.store.Set(ctx, key, []byte("1"))
	}
	if err != nil {
		c.logger.Warn("Failed to mark URL seen", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("seen mark: %w: %w", domain.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *Cache) key(url string) (string, error) {
	norm, err := urlnorm.Normalize(url)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256([]byte(norm))
	return c.prefix + hex.EncodeToString(h[:]), nil
}

func (c *Cache) inc(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}
