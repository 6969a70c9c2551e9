package cache

import (
	"time"

	"storefront-fulfillment/pkg/cache"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

var _ cache.CacheService = (*MemoryCache)(nil)

// MemoryCache is the go-cache backed CacheService.
type MemoryCache struct {
	store *gocache.Cache
	group singleflight.Group
}

// NewMemoryCache creates a new in-memory cache service.
// defaultExpiration applies to Set calls with a zero duration; cleanupInterval
// is how often expired items are purged.
func NewMemoryCache(defaultExpiration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		store: gocache.New(defaultExpiration, cleanupInterval),
	}
}

func (c *MemoryCache) Get(key string) (interface{}, bool) {
	return c.store.Get(key)
}

func (c *MemoryCache) Set(key string, value interface{}, duration time.Duration) {
	c.store.Set(key, value, duration)
}

// Add fails when the key is already present, which makes it a cheap
// first-writer-wins marker for deduplication.
func (c *MemoryCache) Add(key string, value interface{}, duration time.Duration) bool {
	return c.store.Add(key, value, duration) == nil
}

func (c *MemoryCache) Delete(key string) {
	c.store.Delete(key)
}

func (c *MemoryCache) Load(key string, duration time.Duration, fn func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.store.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.store.Get(key); ok {
			return v, nil
		}
		fresh, err := fn()
		if err != nil {
			return nil, err
		}
		c.store.Set(key, fresh, duration)
		return fresh, nil
	})
	return v, err
}

// ItemCount includes expired items not yet purged.
func (c *MemoryCache) ItemCount() int {
	return c.store.ItemCount()
}
