package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/harborhq/aigateway/pkg/cache"
	"github.com/redis/go-redis/v9"
)

// CounterStore is the single shared mutable resource behind the limiter.
// Increments must be atomic with respect to concurrent increments on the
// same key; the store provides that guarantee, not the limiter's call sites.
type CounterStore interface {
	// IncrBy adds n to the counter and sets ttl only when the key is new,
	// so a window's expiry is pinned by its first writer.
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)

	// Get returns the current counter value, 0 when the key does not exist.
	Get(ctx context.Context, key string) (int64, error)

	// SetNX claims a marker key once. Returns false when it was already set.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Source names the backing store for status payloads.
	Source() string
}

// RedisCounterStore backs counters with Redis. INCRBY is atomic server-side;
// EXPIRE NX pins the TTL to the first increment of each window.
type RedisCounterStore struct {
	rdb *cache.Client
}

func NewRedisCounterStore(rdb *cache.Client) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb}
}

func (s *RedisCounterStore) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	pipe := s.rdb.Redis().TxPipeline()
	incr := pipe.IncrBy(ctx, key, n)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.rdb.Redis().Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (s *RedisCounterStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.Redis().SetNX(ctx, key, "1", ttl).Result()
}

func (s *RedisCounterStore) Source() string { return "redis" }

// MemoryCounterStore is the in-process fallback used when Redis is not
// configured, and in unit tests. Counters are per-process only.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*memoryCounter
	now     func() time.Time
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		entries: make(map[string]*memoryCounter),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *MemoryCounterStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryCounterStore) IncrBy(_ context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &memoryCounter{expiresAt: s.now().Add(ttl)}
		s.entries[key] = e
	}
	e.value += n
	return e.value, nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	return e.value, nil
}

func (s *MemoryCounterStore) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(key) != nil {
		return false, nil
	}
	s.entries[key] = &memoryCounter{value: 1, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryCounterStore) Source() string { return "memory" }

// live returns the entry for key, dropping it first if expired.
// Callers must hold the mutex.
func (s *MemoryCounterStore) live(key string) *memoryCounter {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}
