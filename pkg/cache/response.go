package cache

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by ResponseCache.Get when no entry exists for a key.
var ErrMiss = errors.New("cache miss")

// ResponseCache stores serialized provider responses keyed by content digest.
// A hit means no provider work happened for the request, so hits never touch
// the rate limiter or the usage ledger.
type ResponseCache struct {
	rdb *Client
}

// NewResponseCache wraps a redis client as a response cache.
// Returns nil when rdb is nil so callers can treat caching as disabled.
func NewResponseCache(rdb *Client) *ResponseCache {
	if rdb == nil {
		return nil
	}
	return &ResponseCache{rdb: rdb}
}

// Get looks up a cached response. ErrMiss means not found; any other error
// means Redis is unhealthy, and callers should fall through to the provider.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	val, err := c.rdb.Get(ctx, key)
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		log.Printf("[CACHE] redis error on get: %v", err)
		return nil, err
	}
	return val, nil
}

// Set stores a response with the caller-supplied TTL. TTL defaults live with
// the caller (24h for full analysis, 1h for lighter extraction calls), not here.
func (c *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.rdb.Set(ctx, key, value, ttl); err != nil {
		log.Printf("[CACHE] failed to save key %s: %v", key[:16], err)
		return err
	}
	return nil
}

// HealthCheck reports whether the cache backend is reachable.
func (c *ResponseCache) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx) == nil
}
