package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache fills a CacheManager from a loader on miss. Loader
// errors are returned and never cached.
type ReadThroughCache[K ~string, V any] struct {
	cache CacheManager[K, V]
	load  func(ctx context.Context, key K) (V, error)
	ttl   time.Duration
}

// NewReadThroughCache wraps cache with load.
func NewReadThroughCache[K ~string, V any](
	cache CacheManager[K, V],
	load func(ctx context.Context, key K) (V, error),
	ttl time.Duration,
) *ReadThroughCache[K, V] {
	return &ReadThroughCache[K, V]{cache: cache, load: load, ttl: ttl}
}

// Get returns the cached value for key, loading and storing it on a miss.
func (r *ReadThroughCache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}
	value, err := r.load(ctx, key)
	if err != nil {
		return value, err
	}
	r.cache.Set(ctx, key, value, r.ttl)
	return value, nil
}

// Cache returns the underlying cache.
func (r *ReadThroughCache[K, V]) Cache() CacheManager[K, V] {
	return r.cache
}
