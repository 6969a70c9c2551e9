package cache

import (
	"fmt"
	"time"
)

// CacheService is the process cache shared by the dashboard and the change dedup.
type CacheService interface {
	// Get returns the value and true if the key is present and not expired.
	Get(key string) (interface{}, bool)

	Set(key string, value interface{}, duration time.Duration)

	// Add stores a value only if the key is absent. It reports whether it stored.
	Add(key string, value interface{}, duration time.Duration) bool

	Delete(key string)

	// Load returns the cached value of key or stores the result of fn.
	// Concurrent misses on the same key share one call to fn.
	Load(key string, duration time.Duration, fn func() (interface{}, error)) (interface{}, error)
}

// Remember is the typed form of Load.
func Remember[T any](c CacheService, key string, duration time.Duration, fn func() (T, error)) (T, error) {
	v, err := c.Load(key, duration, func() (interface{}, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		c.Delete(key)
		return zero, fmt.Errorf("cache: key %s holds %T", key, v)
	}
	return typed, nil
}
