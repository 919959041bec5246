package cachemanager

import (
	"context"
	"time"
)

// ReadThrough loads values with fn on a miss and caches successful results.
// Errors are never cached.
type ReadThrough[V any, I any] struct {
	cache Cache[V]
	fn    func(ctx context.Context, input I) (V, error)
	ttl   time.Duration
	skip  bool
}

// NewReadThrough wraps fn with cache. When skip is true every call goes to fn.
func NewReadThrough[V any, I any](cache Cache[V], fn func(ctx context.Context, input I) (V, error), ttl time.Duration, skip bool) *ReadThrough[V, I] {
	return &ReadThrough[V, I]{cache: cache, fn: fn, ttl: ttl, skip: skip}
}

// Get returns the value for key, calling fn with input on a miss.
func (r *ReadThrough[V, I]) Get(ctx context.Context, key string, input I) (V, error) {
	if r.skip || r.cache == nil {
		return r.fn(ctx, input)
	}
	if v, ok := r.cache.Get(ctx, key); ok {
		return v, nil
	}

	v, err := r.fn(ctx, input)
	if err != nil {
		return v, err
	}
	r.cache.Set(ctx, key, v, r.ttl)
	return v, nil
}
