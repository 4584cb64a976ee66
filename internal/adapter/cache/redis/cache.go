// Package rediscache stores computed score results in Redis so repeated
// requests for the same profile and opportunity skip the model call.
package rediscache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/scholarsift/scholarsift/internal/adapter/observability"
	"github.com/scholarsift/scholarsift/internal/domain"
)

const keyPrefix = "scholarsift:score:"

// Cache implements domain.ScoreCache on go-redis.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to the Redis instance at url. The connection is verified
// eagerly so a bad URL fails at startup, not on the first request.
func New(ctx domain.Context, url string, ttl time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("op=rediscache.New: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("op=rediscache.New: ping: %w", err)
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get returns the cached result for key, or domain.ErrNotFound on a miss.
func (c *Cache) Get(ctx domain.Context, key string) (domain.ScoreResult, error) {
	raw, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.CacheMissesTotal.Inc()
		return domain.ScoreResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ScoreResult{}, fmt.Errorf("op=rediscache.Get: %w", err)
	}

	var res domain.ScoreResult
	if err := json.Unmarshal(raw, &res); err != nil {
		// A corrupt entry behaves like a miss; the fresh result overwrites it.
		slog.Warn("corrupt score cache entry", slog.String("key", key), slog.Any("error", err))
		observability.CacheMissesTotal.Inc()
		return domain.ScoreResult{}, domain.ErrNotFound
	}
	observability.CacheHitsTotal.Inc()
	return res, nil
}

// Set stores res under key for the configured TTL.
func (c *Cache) Set(ctx domain.Context, key string, res domain.ScoreResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("op=rediscache.Set: %w", err)
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("op=rediscache.Set: %w", err)
	}
	return nil
}

// Ping reports whether the backing Redis is reachable. Used by readiness.
func (c *Cache) Ping(ctx domain.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
