package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type snapshot struct {
	Equity float64 `json:"equity"`
	Open   int     `json:"open"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "account:snapshot", snapshot{Equity: 10500, Open: 2}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got snapshot
	if err := c.Get(ctx, "account:snapshot", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Equity != 10500 || got.Open != 2 {
		t.Fatalf("unexpected value %+v", got)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "price:BTCUSDT", 50000.0, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	var p float64
	if err := c.Get(ctx, "price:BTCUSDT", &p); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v (%v)", err, p)
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "a", "1", time.Minute)
	_ = c.Set(ctx, "b", "2", time.Minute)
	if err := c.Delete(ctx, "a", "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var s string
	if err := c.Get(ctx, "a", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}

func TestGenerateKey(t *testing.T) {
	if got := GenerateKey("validation", "abc"); got != "validation:abc" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := GenerateKeyWithParams("klines", "BTCUSDT", "4h"); got != "klines:BTCUSDT:4h" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestMemTTLCapsL1Lifetime(t *testing.T) {
	lc := &LayeredCache{l1TTL: 2 * time.Second}
	cases := map[time.Duration]time.Duration{
		0:                2 * time.Second,
		time.Second:      time.Second,
		10 * time.Minute: 2 * time.Second,
	}
	for in, want := range cases {
		if got := lc.memTTL(in); got != want {
			t.Fatalf("memTTL(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(WithMemoryMaxSize(2))
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "price:BTCUSDT", 1.0, time.Minute)
	_ = c.Set(ctx, "price:ETHUSDT", 2.0, time.Minute)
	var v float64
	// Touch BTC so ETH becomes the eviction candidate.
	if err := c.Get(ctx, "price:BTCUSDT", &v); err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = c.Set(ctx, "price:SOLUSDT", 3.0, time.Minute)

	if c.Len() != 2 {
		t.Fatalf("len = %d", c.Len())
	}
	if err := c.Get(ctx, "price:ETHUSDT", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("ETH should be evicted, got %v", err)
	}
	if err := c.Get(ctx, "price:BTCUSDT", &v); err != nil || v != 1 {
		t.Fatalf("BTC = %v, %v", v, err)
	}
}

func TestMemoryCacheStoresCopies(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	in := &snapshot{Equity: 100}
	_ = c.Set(ctx, "k", in, 0)
	in.Equity = 1

	var out snapshot
	if err := c.Get(ctx, "k", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Equity != 100 {
		t.Fatalf("cache shares memory with caller: %v", out.Equity)
	}
}

func TestMemoryCacheZeroTTLPersists(t *testing.T) {
	c := NewMemoryCache(WithMemoryCleanup(5 * time.Millisecond))
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "forever", "x", 0)
	time.Sleep(20 * time.Millisecond)
	var s string
	if err := c.Get(ctx, "forever", &s); err != nil || s != "x" {
		t.Fatalf("got %q, %v", s, err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
