package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInMemorySwitchCacheSetAndGet(t *testing.T) {
	cache := NewInMemorySwitchCacheStore()
	ctx := context.Background()

	if err := cache.Set(ctx, "paypal.deposits", false, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	enabled, found, err := cache.Get(ctx, "paypal.deposits")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected cache hit")
	}
	if enabled {
		t.Fatal("expected cached disabled value")
	}
}

func TestInMemorySwitchCacheMissOnUnknownKey(t *testing.T) {
	cache := NewInMemorySwitchCacheStore()
	_, found, err := cache.Get(context.Background(), "paypal.deposits")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("unknown key should miss")
	}
}

func TestInMemorySwitchCacheEntryExpires(t *testing.T) {
	cache := NewInMemorySwitchCacheStore()
	ctx := context.Background()

	if err := cache.Set(ctx, "paypal.deposits", true, time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, found, err := cache.Get(ctx, "paypal.deposits")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expired entry should miss")
	}
}

func TestInMemorySwitchCacheIgnoresNonPositiveTTL(t *testing.T) {
	cache := NewInMemorySwitchCacheStore()
	ctx := context.Background()

	if err := cache.Set(ctx, "paypal.deposits", false, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, found, err := cache.Get(ctx, "paypal.deposits")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("non-positive ttl should not store an entry")
	}
}

func TestInMemorySwitchCacheInvalidate(t *testing.T) {
	cache := NewInMemorySwitchCacheStore()
	ctx := context.Background()

	if err := cache.Set(ctx, "paypal.deposits", true, time.Minute); err != nil {
		t.Fatalf("set deposits: %v", err)
	}
	if err := cache.Set(ctx, "paypal.withdrawals", true, time.Minute); err != nil {
		t.Fatalf("set withdrawals: %v", err)
	}

	if err := cache.Invalidate(ctx, "paypal.deposits"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, found, _ := cache.Get(ctx, "paypal.deposits"); found {
		t.Fatal("invalidated key should miss")
	}
	if _, found, _ := cache.Get(ctx, "paypal.withdrawals"); !found {
		t.Fatal("sibling key should survive a single invalidation")
	}

	if err := cache.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if _, found, _ := cache.Get(ctx, "paypal.withdrawals"); found {
		t.Fatal("invalidate all should clear every entry")
	}
}

func newRedisSwitchCacheForTest(t *testing.T) (*miniredis.Miniredis, *RedisSwitchCacheStore) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return m, NewRedisSwitchCacheStore(client, "switch_test")
}

func TestRedisSwitchCacheRoundTrip(t *testing.T) {
	_, cache := newRedisSwitchCacheForTest(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "paypal.deposits", false, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	enabled, found, err := cache.Get(ctx, "paypal.deposits")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || enabled {
		t.Fatalf("expected cached disabled value, found=%v enabled=%v", found, enabled)
	}
}

func TestRedisSwitchCacheEntryExpires(t *testing.T) {
	m, cache := newRedisSwitchCacheForTest(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "paypal.deposits", true, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	m.FastForward(2 * time.Minute)

	_, found, err := cache.Get(ctx, "paypal.deposits")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expired entry should miss")
	}
}

func TestRedisSwitchCacheInvalidateAllClearsIndexedKeys(t *testing.T) {
	m, cache := newRedisSwitchCacheForTest(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "paypal.deposits", true, time.Minute); err != nil {
		t.Fatalf("set deposits: %v", err)
	}
	if err := cache.Set(ctx, "paypal.withdrawals", false, time.Minute); err != nil {
		t.Fatalf("set withdrawals: %v", err)
	}

	if err := cache.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if _, found, _ := cache.Get(ctx, "paypal.deposits"); found {
		t.Fatal("deposits entry should be gone")
	}
	if _, found, _ := cache.Get(ctx, "paypal.withdrawals"); found {
		t.Fatal("withdrawals entry should be gone")
	}
	if m.Exists("switch_test:index:all") {
		t.Fatal("index set should be deleted")
	}
}

func TestRedisSwitchCacheNilClientIsInert(t *testing.T) {
	cache := NewRedisSwitchCacheStore(nil, "")
	ctx := context.Background()

	if err := cache.Set(ctx, "paypal.deposits", true, time.Minute); err != nil {
		t.Fatalf("set on nil client: %v", err)
	}
	_, found, err := cache.Get(ctx, "paypal.deposits")
	if err != nil {
		t.Fatalf("get on nil client: %v", err)
	}
	if found {
		t.Fatal("nil client cache should always miss")
	}
	if err := cache.Invalidate(ctx, "paypal.deposits"); err != nil {
		t.Fatalf("invalidate on nil client: %v", err)
	}
	if err := cache.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all on nil client: %v", err)
	}
}
