package gigatile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/gigatile/gigatile/cache"
	"github.com/gigatile/gigatile/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// sourceCacheEntries bounds how many open sources the dispatcher keeps.
const sourceCacheEntries = 32

// Registry dispatches open requests to prioritized backends and caches the
// constructed sources and their tiles process-wide.
type Registry struct {
	mu       sync.RWMutex
	backends []registeredBackend

	sources *lru.Cache[string, Source]
	group   singleflight.Group
	tiles   *cache.Cache
	log     *slog.Logger
}

type registeredBackend struct {
	backend  Backend
	priority int
}

// NewRegistry builds a registry whose tile cache uses the given
// configuration.
func NewRegistry(cfg cache.Config) *Registry {
	r := &Registry{
		tiles: cache.New("tile", cfg.Open("tile")),
		log:   slog.Default().With("component", "registry"),
	}
	// Sources evicted from the instance cache are closed; backends defer
	// resource release until their in-flight reads drain.
	r.sources, _ = lru.NewWithEvict[string, Source](sourceCacheEntries, func(fp string, src Source) {
		if err := src.Close(); err != nil {
			r.log.Warn("closing evicted source", "fingerprint", fp, "error", err)
		}
	})
	return r
}

// Register adds a backend. Lower priority probes first; pyramidal backends
// register ahead of the flat-image fallback.
func (r *Registry) Register(b Backend, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append(r.backends, registeredBackend{backend: b, priority: priority})
	sort.SliceStable(r.backends, func(i, j int) bool {
		return r.backends[i].priority < r.backends[j].priority
	})
}

// Backends lists the registered backend names in probe order.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.backends))
	for i, rb := range r.backends {
		names[i] = rb.backend.Name()
	}
	return names
}

// TileCache exposes the shared per-tile cache.
func (r *Registry) TileCache() *cache.Cache {
	return r.tiles
}

// Open probes the registered backends in priority order and returns a
// cached or freshly constructed Source for the path. Concurrent opens of
// the same fingerprint construct once.
func (r *Registry) Open(ctx context.Context, path string, opts *Options) (Source, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.open")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrSource, path))

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	backends := r.backends
	r.mu.RUnlock()
	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no backends registered", ErrUnsupportedFormat)
	}

	var lastErr error
	for _, rb := range backends {
		b := rb.backend
		if !b.CanRead(path) {
			continue
		}
		fp := Fingerprint(b.Name(), path, opts)
		if src, ok := r.sources.Get(fp); ok {
			return src, nil
		}

		src, err, _ := r.group.Do(fp, func() (any, error) {
			if src, ok := r.sources.Get(fp); ok {
				return src, nil
			}
			inner, err := b.Open(path, opts)
			if err != nil {
				return nil, err
			}
			src := &cachedSource{
				Source: inner,
				fp:     fp,
				tiles:  r.tiles,
			}
			r.sources.Add(fp, src)
			return src, nil
		})
		if err == nil {
			return src.(Source), nil
		}

		r.log.Debug("backend rejected path", "backend", b.Name(), "path", path, "error", err)
		if errors.Is(err, ErrIO) || errors.Is(err, fs.ErrNotExist) {
			// Filesystem failures are fatal to the path; no other
			// backend will fare better.
			return nil, err
		}
		// Construction failures fall through to the next candidate; the
		// last error is folded into the unsupported-format report.
		lastErr = err
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Invalidate drops the cached source and tiles for a path across all
// backends.
func (r *Registry) Invalidate(path string, opts *Options) {
	r.mu.RLock()
	backends := r.backends
	r.mu.RUnlock()
	for _, rb := range backends {
		fp := Fingerprint(rb.backend.Name(), path, opts)
		r.sources.Remove(fp)
		r.tiles.Invalidate(fp)
	}
}

// cachedSource decorates a backend source with per-tile caching keyed by
// the source fingerprint.
type cachedSource struct {
	Source
	fp    string
	tiles *cache.Cache
}

func (c *cachedSource) Unwrap() Source { return c.Source }

// Fingerprint returns the identity the source is cached under.
func (c *cachedSource) Fingerprint() string { return c.fp }

func (c *cachedSource) GetTile(ctx context.Context, x, y, z int, opts *TileOptions) (*Tile, error) {
	key := fmt.Sprintf("%s/tile/%d/%d/%d/%s", c.fp, z, x, y, opts.cacheKey())
	v, err := c.tiles.GetOrCompute(ctx, key, func(ctx context.Context) (any, error) {
		return c.Source.GetTile(ctx, x, y, z, opts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelErr(ctx.Err())
		}
		return nil, err
	}
	switch t := v.(type) {
	case *Tile:
		return t, nil
	case []byte:
		// Entries rehydrated from an external byte store carry encoded
		// tile bytes.
		return &Tile{Format: FormatEncoded, Data: t}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected cache entry", ErrDecodeFailed)
	}
}

// FingerprintOf returns the cache identity of a dispatcher-managed source,
// or "" for a source constructed directly.
func FingerprintOf(src Source) string {
	type fingerprinted interface{ Fingerprint() string }
	if f, ok := src.(fingerprinted); ok {
		return f.Fingerprint()
	}
	return ""
}

// defaultRegistry serves the package-level convenience API.
var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry, creating it from the
// environment cache configuration on first use.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(cache.FromEnv())
	})
	return defaultRegistry
}

// Register adds a backend to the default registry. Backend packages call
// this from init, so blank-importing a backend activates it.
func Register(b Backend, priority int) {
	DefaultRegistry().Register(b, priority)
}

// Open dispatches through the default registry.
func Open(ctx context.Context, path string, opts *Options) (Source, error) {
	return DefaultRegistry().Open(ctx, path, opts)
}
