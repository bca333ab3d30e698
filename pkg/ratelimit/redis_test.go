package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedisLimiter(t *testing.T, length time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, length, "ratelimit"), mr
}

func TestRedisLimiterBudget(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, time.Minute)
	ctx := context.Background()

	const budget = 3
	for i := 1; i <= budget; i++ {
		d, err := limiter.Admit(ctx, "tenant:c1", budget)
		if err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d of %d rejected", i, budget)
		}
	}

	d, err := limiter.Admit(ctx, "tenant:c1", budget)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if d.Allowed {
		t.Error("request beyond budget admitted")
	}
	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Remaining)
	}
}

func TestRedisLimiterWindowExpiry(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, time.Minute)
	ctx := context.Background()

	limiter.Admit(ctx, "k", 1)
	if d, _ := limiter.Admit(ctx, "k", 1); d.Allowed {
		t.Fatal("budget should be exhausted")
	}

	mr.FastForward(61 * time.Second)

	if d, _ := limiter.Admit(ctx, "k", 1); !d.Allowed {
		t.Error("fresh window after expiry rejected")
	}
}

func TestRedisLimiterFailsOpenOnError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRedisLimiter(client, time.Minute, "ratelimit")

	mr.Close()
	client.Close()

	d, err := limiter.Admit(context.Background(), "k", 5)
	if err == nil {
		t.Fatal("expected a redis error")
	}
	if !d.Allowed {
		t.Error("decision on redis error must be permissive; the caller picks the policy")
	}
}

func TestRedisLimiterReset(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, time.Minute)
	ctx := context.Background()

	limiter.Admit(ctx, "k", 1)
	if d, _ := limiter.Admit(ctx, "k", 1); d.Allowed {
		t.Fatal("budget should be exhausted")
	}

	if err := limiter.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if d, _ := limiter.Admit(ctx, "k", 1); !d.Allowed {
		t.Error("admission after reset rejected")
	}
}
