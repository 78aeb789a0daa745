// Package redis caches the location hierarchy in Redis so repeated runs do
// not hit the hierarchy source.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
	"github.com/couchcryptid/covid-model-deaths/internal/observability"
)

// HierarchySource loads a location hierarchy.
type HierarchySource interface {
	Hierarchy(ctx context.Context, locationSetID, roundID int) ([]domain.Location, error)
}

// kv is the subset of Redis the cache uses.
type kv interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedHierarchy wraps a HierarchySource with a Redis cache keyed by location
// set and round. Cache failures are logged and fall through to the source.
type CachedHierarchy struct {
	inner   HierarchySource
	cache   kv
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCachedHierarchy creates a cache decorator around a hierarchy source.
func NewCachedHierarchy(inner HierarchySource, client *goredis.Client, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *CachedHierarchy {
	return newCachedHierarchy(inner, clientKV{client}, ttl, logger, metrics)
}

func newCachedHierarchy(inner HierarchySource, cache kv, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *CachedHierarchy {
	return &CachedHierarchy{inner: inner, cache: cache, ttl: ttl, logger: logger, metrics: metrics}
}

// NewClient parses a redis:// URL and returns a connected client.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (c *CachedHierarchy) Hierarchy(ctx context.Context, locationSetID, roundID int) ([]domain.Location, error) {
	key := fmt.Sprintf("hierarchy:%d:%d", locationSetID, roundID)

	data, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.HierarchyCache.WithLabelValues("error").Inc()
		c.logger.Warn("hierarchy cache read failed", "key", key, "error", err)
	case ok:
		var locs []domain.Location
		if err := json.Unmarshal(data, &locs); err == nil {
			c.metrics.HierarchyCache.WithLabelValues("hit").Inc()
			return locs, nil
		}
		c.metrics.HierarchyCache.WithLabelValues("error").Inc()
		c.logger.Warn("hierarchy cache entry corrupt", "key", key)
	default:
		c.metrics.HierarchyCache.WithLabelValues("miss").Inc()
	}

	locs, err := c.inner.Hierarchy(ctx, locationSetID, roundID)
	if err != nil {
		return nil, err
	}
	// Only cache non-empty hierarchies so a missing round can be retried.
	if len(locs) == 0 {
		return locs, nil
	}
	data, err = json.Marshal(locs)
	if err != nil {
		return nil, fmt.Errorf("encode hierarchy: %w", err)
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("hierarchy cache write failed", "key", key, "error", err)
	}
	return locs, nil
}

type clientKV struct {
	client *goredis.Client
}

func (k clientKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := k.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (k clientKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return k.client.Set(ctx, key, value, ttl).Err()
}
