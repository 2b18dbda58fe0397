package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLimiterAllow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rl := NewRedisLimiter(rdb, map[string]int64{ScopeGenerate: 2})
	now := time.Date(2026, 2, 13, 10, 15, 0, 0, time.UTC)

	for i := int64(1); i <= 2; i++ {
		d, err := rl.Allow(context.Background(), ScopeGenerate, "u1", now)
		if err != nil {
			t.Fatalf("allow#%d: %v", i, err)
		}
		if !d.Allowed || d.Used != i {
			t.Fatalf("expected call %d allowed with used=%d, got allowed=%v used=%d", i, i, d.Allowed, d.Used)
		}
	}

	d, err := rl.Allow(context.Background(), ScopeGenerate, "u1", now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if d.Allowed || d.Used != 3 {
		t.Fatalf("expected third call denied with used=3, got allowed=%v used=%d", d.Allowed, d.Used)
	}
	if want := time.Date(2026, 2, 13, 11, 0, 0, 0, time.UTC); !d.ResetAt.Equal(want) {
		t.Fatalf("expected reset at %s, got %s", want, d.ResetAt)
	}

	key := "halalchat:ratelimit:generate:u1:2026021310"
	if ttl := mr.TTL(key); ttl != 45*time.Minute {
		t.Fatalf("expected ttl to end of window, got %s", ttl)
	}
}

func TestRedisLimiterSeparatesUsersAndScopes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rl := NewRedisLimiter(rdb, map[string]int64{ScopeGenerate: 1, ScopeEarn: 1})
	now := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if d, _ := rl.Allow(ctx, ScopeGenerate, "u1", now); !d.Allowed {
		t.Fatal("first generate for u1 should pass")
	}
	if d, _ := rl.Allow(ctx, ScopeGenerate, "u2", now); !d.Allowed {
		t.Fatal("u2 has its own counter")
	}
	if d, _ := rl.Allow(ctx, ScopeEarn, "u1", now); !d.Allowed {
		t.Fatal("earn has its own counter")
	}
	if d, _ := rl.Allow(ctx, ScopeGenerate, "u1", now.Add(time.Hour)); !d.Allowed {
		t.Fatal("next window starts fresh")
	}
}

func TestRedisLimiterUnlimitedScope(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rl := NewRedisLimiter(rdb, nil)
	for i := 0; i < 10; i++ {
		d, err := rl.Allow(context.Background(), ScopeGenerate, "u1", time.Now())
		if err != nil || !d.Allowed {
			t.Fatalf("expected unlimited scope to allow, got %v %v", d, err)
		}
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("unlimited scope should not touch redis")
	}
}

func TestMemoryLimiterAllow(t *testing.T) {
	rl := NewMemoryLimiter(map[string]int64{ScopeEarn: 1})
	now := time.Date(2026, 2, 13, 10, 59, 0, 0, time.UTC)
	ctx := context.Background()

	if d, _ := rl.Allow(ctx, ScopeEarn, "u1", now); !d.Allowed {
		t.Fatal("first call should pass")
	}
	if d, _ := rl.Allow(ctx, ScopeEarn, "u1", now); d.Allowed || d.Used != 2 {
		t.Fatalf("second call should be denied, got %+v", d)
	}
	if d, _ := rl.Allow(ctx, ScopeEarn, "u1", now.Add(2*time.Minute)); !d.Allowed {
		t.Fatal("new window should reset the count")
	}
}
