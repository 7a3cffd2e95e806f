// Package cache provides the bounded, keyed, concurrency-safe store shared
// by all tile sources. Values are keyed by opaque strings (tile
// fingerprints, source fingerprints) and served from a pluggable backend:
// an in-process LRU or an external memcached cluster. A single-flight layer
// guarantees that concurrent requests for the same missing key run the
// computation exactly once.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/gigatile/gigatile/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// Sizer lets cached values report their memory footprint so byte-bounded
// backends can budget entries.
type Sizer interface {
	CacheSize() int
}

// Store is the contract a cache backend satisfies. Implementations must be
// safe for concurrent use. Put never fails; a backend that cannot store a
// value drops it silently.
type Store interface {
	Get(key string) (any, bool)
	Put(key string, value any)

	// Invalidate removes every entry whose key starts with prefix and
	// returns how many were dropped (best effort for remote backends).
	Invalidate(prefix string) int

	// Len returns the number of resident entries, where known.
	Len() int
}

// Cache wraps a Store with single-flight computation and telemetry. The
// zero value is not usable; construct with New.
type Cache struct {
	name  string
	store Store
	group singleflight.Group
	log   *slog.Logger
}

// New wraps a backend store. The name labels telemetry counters and log
// lines ("tile", "source", ...).
func New(name string, store Store) *Cache {
	return &Cache{
		name:  name,
		store: store,
		log:   slog.Default().With("cache", name),
	}
}

// Get fetches a value. A miss is not an error.
func (c *Cache) Get(ctx context.Context, key string) (any, bool) {
	_, span := tracing.StartSpan(ctx, "cache.get")
	defer span.End()
	span.SetAttributes(attribute.String("cache.name", c.name))

	v, ok := c.store.Get(key)
	if ok {
		hits.WithLabelValues(c.name).Inc()
	} else {
		misses.WithLabelValues(c.name).Inc()
	}
	span.SetAttributes(attribute.Bool("cache.hit", ok))
	return v, ok
}

// Put stores a value under key.
func (c *Cache) Put(ctx context.Context, key string, value any) {
	_, span := tracing.StartSpan(ctx, "cache.put")
	defer span.End()
	span.SetAttributes(attribute.String("cache.name", c.name))

	c.store.Put(key, value)
}

// Invalidate drops every key with the given prefix.
func (c *Cache) Invalidate(prefix string) int {
	n := c.store.Invalidate(prefix)
	if n > 0 {
		c.log.Debug("invalidated entries", "prefix", prefix, "count", n)
	}
	return n
}

// GetOrCompute returns the cached value for key, or runs fn to produce it.
// When several goroutines ask for the same missing key concurrently,
// exactly one runs fn; the rest receive its result. Errors from fn are
// returned to every waiter and never cached. A waiter whose context is
// cancelled detaches without disturbing the producer.
func (c *Cache) GetOrCompute(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Re-check under the flight: a peer may have stored the value
		// between our miss and this call.
		if v, ok := c.store.Get(key); ok {
			return v, nil
		}
		v, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store.Put(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", keyKind(key), ctx.Err())
	}
}

// keyKind trims a key to its fingerprint prefix for error messages, so
// failures do not leak full cache keys into user-facing errors.
func keyKind(key string) string {
	if i := strings.IndexByte(key, '/'); i > 0 {
		return key[:i]
	}
	return "cache entry"
}
