package cache

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// DefaultCapacityBytes is the tile-cache budget when none is configured.
const DefaultCapacityBytes = 256 << 20 // 256 MiB

// Config selects and sizes the process-wide tile cache backend.
type Config struct {
	// Backend is "lru" or "memcache". Empty selects lru.
	Backend string

	// CapacityBytes bounds the lru backend. Zero selects the default,
	// clamped against available system memory.
	CapacityBytes int64

	// MemcacheServers lists "host:port" addresses for the memcache
	// backend.
	MemcacheServers []string
}

// FromEnv reads GIGATILE_CACHE_BACKEND, GIGATILE_CACHE_CAPACITY_BYTES and
// GIGATILE_CACHE_MEMCACHE_SERVERS (comma separated).
func FromEnv() Config {
	cfg := Config{
		Backend: os.Getenv("GIGATILE_CACHE_BACKEND"),
	}
	if v := os.Getenv("GIGATILE_CACHE_CAPACITY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.CapacityBytes = n
		}
	}
	if v := os.Getenv("GIGATILE_CACHE_MEMCACHE_SERVERS"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.MemcacheServers = append(cfg.MemcacheServers, s)
			}
		}
	}
	return cfg
}

// Open builds the configured store. Invalid configuration never fails:
// it logs and falls back to an in-process LRU at the default capacity.
func (cfg Config) Open(name string) Store {
	log := slog.Default().With("cache", name)

	switch cfg.Backend {
	case "memcache":
		if len(cfg.MemcacheServers) == 0 {
			log.Warn("memcache backend configured without servers; using lru")
			break
		}
		return NewMemcached(name, cfg.MemcacheServers...)
	case "", "lru":
	default:
		log.Warn("unknown cache backend; using lru", "backend", cfg.Backend)
	}

	capacity := cfg.CapacityBytes
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	return NewLRU(name, capacity)
}

// defaultCapacity picks the default byte budget, shrinking it on machines
// with little physical memory so the cache never claims more than a quarter
// of RAM.
func defaultCapacity() int64 {
	capacity := int64(DefaultCapacityBytes)
	total, err := totalSystemRAM()
	if err != nil {
		return capacity
	}
	if quarter := int64(total / 4); quarter > 0 && quarter < capacity {
		return quarter
	}
	return capacity
}
