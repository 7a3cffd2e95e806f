package cache

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// expectedEntryBytes is the assumed footprint of a cached tile when a value
// does not report its own size: one decoded 256x256 RGBA tile.
const expectedEntryBytes = 256 * 256 * 4

// LRU is an in-process, strictly bounded store with least-recently-used
// eviction. The byte capacity maps to an entry budget using the expected
// per-tile size; values implementing Sizer refine nothing here — the bound
// is deliberately simple and strict.
type LRU struct {
	name string
	c    *lru.Cache[string, any]
}

// NewLRU creates an LRU store bounded to roughly capacityBytes. The name
// labels eviction telemetry.
func NewLRU(name string, capacityBytes int64) *LRU {
	entries := int(capacityBytes / expectedEntryBytes)
	if entries < 8 {
		entries = 8
	}
	return NewLRUEntries(name, entries)
}

// NewLRUEntries creates an LRU store bounded to a fixed entry count.
func NewLRUEntries(name string, entries int) *LRU {
	s := &LRU{name: name}
	// The constructor only fails for a non-positive size, which the
	// callers above rule out.
	s.c, _ = lru.NewWithEvict[string, any](entries, func(string, any) {
		evictions.WithLabelValues(name).Inc()
	})
	return s
}

// Get returns the value stored under key and marks it recently used.
func (s *LRU) Get(key string) (any, bool) {
	return s.c.Get(key)
}

// Put inserts a value, evicting the least recently used entries as needed.
func (s *LRU) Put(key string, value any) {
	s.c.Add(key, value)
}

// Invalidate removes every key with the given prefix.
func (s *LRU) Invalidate(prefix string) int {
	n := 0
	for _, k := range s.c.Keys() {
		if strings.HasPrefix(k, prefix) {
			if s.c.Remove(k) {
				n++
			}
		}
	}
	return n
}

// Len returns the number of resident entries.
func (s *LRU) Len() int {
	return s.c.Len()
}
