package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetCoalescesConcurrentMisses(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	ctx := context.Background()

	var computes atomic.Int32
	compute := func(ctx context.Context) (any, error) {
		computes.Add(1)
		time.Sleep(30 * time.Millisecond)
		return "value", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 16)
	for i := 0; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, err := c.Get(ctx, "shared", time.Minute, compute)
			if err != nil {
				t.Errorf("get %d: %v", i, err)
				return
			}
			results[i] = value
		}(i)
	}
	wg.Wait()

	if got := computes.Load(); got != 1 {
		t.Fatalf("expected exactly 1 compute, got %d", got)
	}
	for i, value := range results {
		if value != "value" {
			t.Fatalf("caller %d got %v", i, value)
		}
	}
}

func TestGetRecomputesAfterFailure(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	ctx := context.Background()

	var calls atomic.Int32
	compute := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("upstream down")
		}
		return 42, nil
	}

	if _, err := c.Get(ctx, "retry", time.Minute, compute); err == nil {
		t.Fatal("expected first compute to fail")
	}
	value, err := c.Get(ctx, "retry", time.Minute, compute)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if value != 42 {
		t.Fatalf("expected 42, got %v", value)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 computes, got %d", calls.Load())
	}
}

func TestGetExpiresEntries(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	ctx := context.Background()

	var calls atomic.Int32
	compute := func(ctx context.Context) (any, error) {
		return int(calls.Add(1)), nil
	}

	if _, err := c.Get(ctx, "ttl", 10*time.Millisecond, compute); err != nil {
		t.Fatalf("first get: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	value, err := c.Get(ctx, "ttl", time.Minute, compute)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if value != 2 {
		t.Fatalf("expected recompute after expiry, got %v", value)
	}
}

func TestPeekReturnsExpiredEntries(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	c.Put("stale", "old", 5*time.Millisecond)
	time.Sleep(15 * time.Millisecond)

	value, ok := c.Peek("stale")
	if !ok {
		t.Fatal("expected peek to return the expired entry")
	}
	if value != "old" {
		t.Fatalf("expected old value, got %v", value)
	}
}

func TestPutBypassesStats(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	ctx := context.Background()

	c.Put("direct", "v", time.Minute)
	if stats := c.Stats(); stats.Hits != 0 || stats.Misses != 0 {
		t.Fatalf("put should not touch stats, got %+v", stats)
	}

	value, err := c.Get(ctx, "direct", time.Minute, func(ctx context.Context) (any, error) {
		t.Fatal("compute should not run for a fresh entry")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "v" {
		t.Fatalf("expected v, got %v", value)
	}
	if stats := c.Stats(); stats.Hits != 1 {
		t.Fatalf("expected 1 hit, got %+v", stats)
	}
}

func TestStatsHitRate(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	ctx := context.Background()

	compute := func(ctx context.Context) (any, error) { return "x", nil }
	if _, err := c.Get(ctx, "k", time.Minute, compute); err != nil {
		t.Fatalf("miss get: %v", err)
	}
	if _, err := c.Get(ctx, "k", time.Minute, compute); err != nil {
		t.Fatalf("hit get: %v", err)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if rate := stats.HitRate(); rate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %f", rate)
	}
}

func TestObserverReceivesOutcomes(t *testing.T) {
	var hits, misses atomic.Int32
	c := New(Config{}, WithObserver(func(hit bool) {
		if hit {
			hits.Add(1)
		} else {
			misses.Add(1)
		}
	}))
	defer c.Close()
	ctx := context.Background()

	compute := func(ctx context.Context) (any, error) { return "x", nil }
	_, _ = c.Get(ctx, "k", time.Minute, compute)
	_, _ = c.Get(ctx, "k", time.Minute, compute)

	if misses.Load() != 1 || hits.Load() != 1 {
		t.Fatalf("observer saw hits=%d misses=%d", hits.Load(), misses.Load())
	}
}
