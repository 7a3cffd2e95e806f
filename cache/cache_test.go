package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLRUBasics(t *testing.T) {
	s := NewLRUEntries("test", 4)

	s.Put("a/1", []byte("one"))
	s.Put("a/2", []byte("two"))
	s.Put("b/1", []byte("three"))

	if v, ok := s.Get("a/1"); !ok || string(v.([]byte)) != "one" {
		t.Fatalf("Get(a/1) = %v, %v", v, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatal("unexpected hit for missing key")
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	s := NewLRUEntries("test", 2)

	s.Put("k1", 1)
	s.Put("k2", 2)
	s.Put("k3", 3) // evicts k1

	if _, ok := s.Get("k1"); ok {
		t.Fatal("k1 should have been evicted")
	}
	if _, ok := s.Get("k2"); !ok {
		t.Fatal("k2 should still be resident")
	}
	if _, ok := s.Get("k3"); !ok {
		t.Fatal("k3 should be resident")
	}
}

func TestLRURecencyOrder(t *testing.T) {
	s := NewLRUEntries("test", 2)

	s.Put("k1", 1)
	s.Put("k2", 2)
	s.Get("k1") // k2 is now least recently used
	s.Put("k3", 3)

	if _, ok := s.Get("k1"); !ok {
		t.Fatal("recently used k1 was evicted")
	}
	if _, ok := s.Get("k2"); ok {
		t.Fatal("k2 should have been evicted")
	}
}

func TestLRUInvalidatePrefix(t *testing.T) {
	s := NewLRUEntries("test", 16)
	for i := 0; i < 4; i++ {
		s.Put(fmt.Sprintf("src1/%d", i), i)
		s.Put(fmt.Sprintf("src2/%d", i), i)
	}

	if n := s.Invalidate("src1/"); n != 4 {
		t.Fatalf("Invalidate removed %d entries, want 4", n)
	}
	if s.Len() != 4 {
		t.Fatalf("Len = %d after invalidate, want 4", s.Len())
	}
	if _, ok := s.Get("src2/0"); !ok {
		t.Fatal("unrelated prefix was invalidated")
	}
}

func TestGetOrComputeSingleProducer(t *testing.T) {
	c := New("test", NewLRUEntries("test", 32))

	var calls atomic.Int64
	var wg sync.WaitGroup
	results := make([][]byte, 16)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), "tile/0/0/0", func(context.Context) (any, error) {
				calls.Add(1)
				time.Sleep(10 * time.Millisecond)
				return []byte("pixels"), nil
			})
			if err != nil {
				t.Errorf("GetOrCompute: %v", err)
				return
			}
			results[i] = v.([]byte)
		}(i)
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("computation ran %d times, want 1", n)
	}
	for i, r := range results {
		if !bytes.Equal(r, []byte("pixels")) {
			t.Fatalf("caller %d saw %q", i, r)
		}
	}
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c := New("test", NewLRUEntries("test", 32))
	boom := errors.New("decode failed")

	var calls atomic.Int64
	_, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (any, error) {
		calls.Add(1)
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	// A later call recomputes rather than serving the failure.
	v, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (any, error) {
		calls.Add(1)
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("retry = (%v, %v)", v, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestGetOrComputeCancelledWaiter(t *testing.T) {
	c := New("test", NewLRUEntries("test", 32))

	release := make(chan struct{})
	go func() {
		c.GetOrCompute(context.Background(), "slow", func(context.Context) (any, error) {
			<-release
			return "done", nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetOrCompute(ctx, "slow", func(context.Context) (any, error) {
		return "unexpected", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	close(release)
}

func TestConfigFallback(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty", Config{}},
		{"unknown backend", Config{Backend: "redis"}},
		{"memcache without servers", Config{Backend: "memcache"}},
		{"negative capacity", Config{CapacityBytes: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := tt.cfg.Open("test")
			if _, ok := store.(*LRU); !ok {
				t.Fatalf("backend = %T, want *LRU", store)
			}
		})
	}
}

func TestConfigMemcache(t *testing.T) {
	store := Config{Backend: "memcache", MemcacheServers: []string{"127.0.0.1:11211"}}.Open("test")
	if _, ok := store.(*Memcached); !ok {
		t.Fatalf("backend = %T, want *Memcached", store)
	}
}

func TestMemcachedRejectsOpaqueValues(t *testing.T) {
	// Put of a non-serializable value must be a silent no-op even with no
	// server reachable.
	s := NewMemcached("test", "127.0.0.1:1")
	s.Put("k", struct{ X int }{1})
	if _, ok := s.Get("k"); ok {
		t.Fatal("unexpected hit")
	}
}
