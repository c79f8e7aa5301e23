package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// SpaceCache stores resolved account spaces between requests. Status changes
// must Invalidate the entry so suspended accounts stop resolving promptly.
type SpaceCache interface {
	Get(ctx context.Context, accountID uuid.UUID) (tenant.Space, bool, error)
	Put(ctx context.Context, space tenant.Space) error
	Invalidate(ctx context.Context, accountID uuid.UUID) error
}

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	items map[uuid.UUID]cacheItem
}

type cacheItem struct {
	space     tenant.Space
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, items: make(map[uuid.UUID]cacheItem)}
}

func (c *MemoryCache) Get(_ context.Context, id uuid.UUID) (tenant.Space, bool, error) {
	c.mu.RLock()
	item, ok := c.items[id]
	c.mu.RUnlock()
	if !ok || c.now().After(item.expiresAt) {
		return tenant.Space{}, false, nil
	}
	return item.space, true, nil
}

func (c *MemoryCache) Put(_ context.Context, space tenant.Space) error {
	c.mu.Lock()
	c.items[space.AccountID] = cacheItem{space: space, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
	return nil
}

// redisClient is the subset of *redis.Client the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache shares resolved spaces across API replicas.
type RedisCache struct {
	c      redisClient
	ttl    time.Duration
	prefix string
}

func NewRedisCache(c *redis.Client, ttl time.Duration, prefix string) *RedisCache {
	return newRedisCache(c, ttl, prefix)
}

func newRedisCache(c redisClient, ttl time.Duration, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "tenancy:space:"
	}
	return &RedisCache{c: c, ttl: ttl, prefix: prefix}
}

func (r *RedisCache) key(id uuid.UUID) string {
	return r.prefix + id.String()
}

func (r *RedisCache) Get(ctx context.Context, id uuid.UUID) (tenant.Space, bool, error) {
	val, err := r.c.Get(ctx, r.key(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return tenant.Space{}, false, nil
		}
		return tenant.Space{}, false, err
	}
	var space tenant.Space
	if err := json.Unmarshal([]byte(val), &space); err != nil {
		return tenant.Space{}, false, err
	}
	return space, true, nil
}

func (r *RedisCache) Put(ctx context.Context, space tenant.Space) error {
	raw, err := json.Marshal(space)
	if err != nil {
		return err
	}
	return r.c.Set(ctx, r.key(space.AccountID), string(raw), r.ttl).Err()
}

func (r *RedisCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	return r.c.Del(ctx, r.key(id)).Err()
}

// NopCache disables caching.
type NopCache struct{}

func (NopCache) Get(context.Context, uuid.UUID) (tenant.Space, bool, error) {
	return tenant.Space{}, false, nil
}
func (NopCache) Put(context.Context, tenant.Space) error { return nil }

func (NopCache) Invalidate(context.Context, uuid.UUID) error { return nil }

var (
	_ SpaceCache = (*MemoryCache)(nil)
	_ SpaceCache = (*RedisCache)(nil)
	_ SpaceCache = NopCache{}
)
