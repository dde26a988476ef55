// Package cachemanager provides typed caches over go-cache. The selector
// engine keeps compiled selectors and ref bindings in it.
package cachemanager

import (
	"context"
	"time"
)

// NoExpiration keeps an entry until it is deleted or the cache is flushed.
const NoExpiration time.Duration = -1

// CacheManager is a typed key/value cache.
type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K)
	Keys(ctx context.Context) []K
	Len() int
	Flush(ctx context.Context)
}
