package statecache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/fanout/internal/log"
)

// NoExpiration keeps an entry until it is deleted or overwritten.
const NoExpiration = gocache.NoExpiration

// DefaultExpiration uses the store's configured default TTL.
const DefaultExpiration = gocache.DefaultExpiration

// DefaultCleanupInterval is how often expired entries are purged.
const DefaultCleanupInterval = 5 * time.Minute

// NewMemoryStore creates an in-memory Store. A defaultTTL of 0 or
// NoExpiration keeps values forever.
func NewMemoryStore[K ~string, V any](name string, defaultTTL, cleanupInterval time.Duration) *MemoryStore[K, V] {
	if defaultTTL == 0 {
		defaultTTL = NoExpiration
	}
	return &MemoryStore[K, V]{
		name:  name,
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// MemoryStore implements Store on top of go-cache.
type MemoryStore[K ~string, V any] struct {
	name  string
	cache *gocache.Cache
}

// Get returns the value for key if present and not expired.
func (s *MemoryStore[K, V]) Get(ctx context.Context, key K) (V, bool) {
	var zero V

	raw, found := s.cache.Get(string(key))
	if !found {
		return zero, false
	}

	v, ok := raw.(V)
	if !ok {
		log.Error(log.CatState, "wrong type assertion when getting value", "store", s.name, "key", key)
		return zero, false
	}
	return v, true
}

// GetMultiple returns the values present for keys. The bool is false when
// none of the keys were found.
func (s *MemoryStore[K, V]) GetMultiple(ctx context.Context, keys []K) (map[K]V, bool) {
	if len(keys) == 0 {
		return nil, false
	}

	values := make(map[K]V, len(keys))
	for _, key := range keys {
		if v, ok := s.Get(ctx, key); ok {
			values[key] = v
		}
	}
	if len(values) == 0 {
		return nil, false
	}
	if len(values) < len(keys) {
		log.Debug(log.CatState, "partial state miss", "store", s.name, "requested", len(keys), "found", len(values))
	}
	return values, true
}

// Set stores value under key with the given TTL.
func (s *MemoryStore[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	s.cache.Set(string(key), value, ttl)
}

// Delete removes keys.
func (s *MemoryStore[K, V]) Delete(ctx context.Context, keys ...K) error {
	for _, key := range keys {
		s.cache.Delete(string(key))
	}
	return nil
}

// Items returns a copy of every unexpired entry.
func (s *MemoryStore[K, V]) Items(ctx context.Context) map[K]V {
	items := s.cache.Items()
	out := make(map[K]V, len(items))
	now := time.Now().UnixNano()
	for k, item := range items {
		if item.Expiration > 0 && now > item.Expiration {
			continue
		}
		if v, ok := item.Object.(V); ok {
			out[K(k)] = v
		}
	}
	return out
}

// Flush removes every entry.
func (s *MemoryStore[K, V]) Flush(ctx context.Context) error {
	s.cache.Flush()
	return nil
}
