// Package statecache holds last-known values keyed by topic, with optional expiry.
package statecache

import (
	"context"
	"time"
)

// Store is a keyed value store with per-entry TTL.
type Store[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetMultiple(ctx context.Context, keys []K) (map[K]V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Items(ctx context.Context) map[K]V
	Flush(ctx context.Context) error
}
