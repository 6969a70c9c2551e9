package notifier

import (
	"context"
	"fmt"
	"time"

	"storefront-fulfillment/pkg/cache"

	"github.com/redis/go-redis/v9"
)

const dedupKeyFormat = "dedup:%s:%s"

// Deduplicator remembers handled change keys for a while.
type Deduplicator interface {
	// FirstSeen records key and reports whether it was new.
	FirstSeen(ctx context.Context, key string) (bool, error)
}

// CacheDeduplicator keeps keys in process memory.
type CacheDeduplicator struct {
	cache   cache.CacheService
	service string
	ttl     time.Duration
}

func NewCacheDeduplicator(c cache.CacheService, service string, ttl time.Duration) *CacheDeduplicator {
	return &CacheDeduplicator{cache: c, service: service, ttl: ttl}
}

func (d *CacheDeduplicator) FirstSeen(_ context.Context, key string) (bool, error) {
	return d.cache.Add(fmt.Sprintf(dedupKeyFormat, d.service, key), struct{}{}, d.ttl), nil
}

// RedisDeduplicator shares keys across replicas.
type RedisDeduplicator struct {
	rdb     *redis.Client
	service string
	ttl     time.Duration
}

func NewRedisDeduplicator(rdb *redis.Client, service string, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{rdb: rdb, service: service, ttl: ttl}
}

func (d *RedisDeduplicator) FirstSeen(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(dedupKeyFormat, d.service, key), "1", d.ttl).Result()
}
