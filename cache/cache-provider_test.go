package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type providerUnderTest struct {
	name     string
	provider CacheProvider
	// advance lets time pass for the provider
	advance func(time.Duration)
}

func sleep(d time.Duration) {
	time.Sleep(d)
}

func providers(t *testing.T) []providerUnderTest {
	sqlite, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return []providerUnderTest{
		{"memory", NewMemCache(), sleep},
		{"sqlite", sqlite, sleep},
		{"redis", NewRedisCacheWithClient(client, "test:"), mr.FastForward},
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	for _, p := range providers(t) {
		b, ok, err := p.provider.Get(ctx, 42)
		if err != nil || ok || b != nil {
			t.Fatalf("%s: got %v %v %v", p.name, b, ok, err)
		}
	}
}

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	for _, p := range providers(t) {
		// keys above the int64 range must work as well
		key := uint64(1<<63 + 12345)
		if err := p.provider.Set(ctx, key, []byte("stored")); err != nil {
			t.Fatalf("%s: %v", p.name, err)
		}
		b, ok, err := p.provider.Get(ctx, key)
		if err != nil || !ok || string(b) != "stored" {
			t.Fatalf("%s: got %s %v %v", p.name, b, ok, err)
		}
		if err := p.provider.Set(ctx, key, []byte("overwritten")); err != nil {
			t.Fatalf("%s: %v", p.name, err)
		}
		if b, _, _ := p.provider.Get(ctx, key); string(b) != "overwritten" {
			t.Fatalf("%s: got %s", p.name, b)
		}
	}
}

func TestExpire(t *testing.T) {
	ctx := context.Background()
	for _, p := range providers(t) {
		if err := p.provider.Set(ctx, 1, []byte("short")); err != nil {
			t.Fatalf("%s: %v", p.name, err)
		}
		if err := p.provider.Set(ctx, 2, []byte("long")); err != nil {
			t.Fatalf("%s: %v", p.name, err)
		}
		if err := p.provider.Expire(ctx, 1, 50*time.Millisecond); err != nil {
			t.Fatalf("%s: %v", p.name, err)
		}
		if err := p.provider.Expire(ctx, 2, time.Minute); err != nil {
			t.Fatalf("%s: %v", p.name, err)
		}
		if _, ok, _ := p.provider.Get(ctx, 1); !ok {
			t.Fatalf("%s: entry expired too early", p.name)
		}
		p.advance(100 * time.Millisecond)
		if _, ok, err := p.provider.Get(ctx, 1); ok || err != nil {
			t.Fatalf("%s: entry did not expire (%v)", p.name, err)
		}
		if _, ok, _ := p.provider.Get(ctx, 2); !ok {
			t.Fatalf("%s: long-lived entry expired", p.name)
		}
	}
}

func TestExpireMissingKey(t *testing.T) {
	ctx := context.Background()
	for _, p := range providers(t) {
		if err := p.provider.Expire(ctx, 99, time.Second); err != nil {
			t.Fatalf("%s: %v", p.name, err)
		}
		if _, ok, _ := p.provider.Get(ctx, 99); ok {
			t.Fatalf("%s: Expire created an entry", p.name)
		}
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	for _, p := range providers(t) {
		p.provider.Set(ctx, 7, []byte("x"))
		if err := p.provider.Purge(ctx, 7); err != nil {
			t.Fatalf("%s: %v", p.name, err)
		}
		if _, ok, _ := p.provider.Get(ctx, 7); ok {
			t.Fatalf("%s: entry not purged", p.name)
		}
	}
}

func TestRedisKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	rc := NewRedisCacheWithClient(client, "")
	if err := rc.Set(context.Background(), 5, []byte("v")); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("grache:5") {
		t.Fatalf("Keys are %v", mr.Keys())
	}
}

func TestNewRedisCacheUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisCache(context.Background(), RedisConfig{Address: addr}); err == nil {
		t.Fatal("Expected connection error")
	}
}

func TestSQLitePurgeExpired(t *testing.T) {
	ctx := context.Background()
	sqlite, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer sqlite.Close()
	sqlite.Set(ctx, 1, []byte("a"))
	sqlite.Set(ctx, 2, []byte("b"))
	sqlite.Set(ctx, 3, []byte("c"))
	sqlite.Expire(ctx, 1, time.Millisecond)
	sqlite.Expire(ctx, 2, time.Hour)
	time.Sleep(10 * time.Millisecond)
	n, err := sqlite.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Purged %d entries", n)
	}
	if _, ok, _ := sqlite.Get(ctx, 3); !ok {
		t.Fatal("Entry without expiry purged")
	}
}
