package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crewflow/crewflow/pkg/credentials"
)

func TestMemoryLimiterBudgetExactness(t *testing.T) {
	current := time.Now()
	limiter := NewMemoryLimiter(time.Minute, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	const budget = 5
	for i := 1; i <= budget; i++ {
		d, err := limiter.Admit(ctx, "tenant:c1", budget)
		if err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d of %d rejected", i, budget)
		}
		if d.Remaining != budget-i {
			t.Errorf("request %d: remaining = %d, want %d", i, d.Remaining, budget-i)
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
		t.Errorf("remaining after exhaustion = %d, want 0", d.Remaining)
	}
	if !d.ResetAt.After(current) || d.ResetAt.After(current.Add(time.Minute)) {
		t.Errorf("resetAt = %v outside (now, now+window]", d.ResetAt)
	}
}

func TestMemoryLimiterWindowReset(t *testing.T) {
	current := time.Now()
	limiter := NewMemoryLimiter(time.Minute, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.Admit(ctx, "k", 3)
	}
	if d, _ := limiter.Admit(ctx, "k", 3); d.Allowed {
		t.Fatal("budget should be exhausted")
	}

	// Crossing the window boundary starts a fresh counter.
	current = current.Add(61 * time.Second)
	d, _ := limiter.Admit(ctx, "k", 3)
	if !d.Allowed {
		t.Error("first request of new window rejected")
	}
	if d.Remaining != 2 {
		t.Errorf("remaining = %d, want 2", d.Remaining)
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(time.Minute)
	ctx := context.Background()

	limiter.Admit(ctx, "tenant:a", 1)
	if d, _ := limiter.Admit(ctx, "tenant:a", 1); d.Allowed {
		t.Fatal("tenant:a budget should be exhausted")
	}
	if d, _ := limiter.Admit(ctx, "tenant:b", 1); !d.Allowed {
		t.Error("tenant:b must not share tenant:a's window")
	}
}

// K concurrent admissions against budget N admit exactly N: no lost or
// double-counted increments.
func TestMemoryLimiterConcurrentAdmissions(t *testing.T) {
	limiter := NewMemoryLimiter(time.Minute)
	ctx := context.Background()

	const budget = 10
	const attempts = 100

	var admitted int64
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			d, err := limiter.Admit(ctx, "shared", budget)
			if err == nil && d.Allowed {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	if admitted != budget {
		t.Errorf("admitted %d of %d concurrent requests, want exactly %d", admitted, attempts, budget)
	}
}

func TestMemoryLimiterSweepReclaimsIdleKeys(t *testing.T) {
	current := time.Now()
	limiter := NewMemoryLimiter(time.Minute, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	limiter.Admit(ctx, "a", 10)
	limiter.Admit(ctx, "b", 10)
	if limiter.size() != 2 {
		t.Fatalf("size = %d, want 2", limiter.size())
	}

	// Sweep must not touch live windows.
	limiter.Sweep()
	if limiter.size() != 2 {
		t.Errorf("sweep removed live windows: size = %d", limiter.size())
	}

	current = current.Add(2 * time.Minute)
	limiter.Sweep()
	if limiter.size() != 0 {
		t.Errorf("size after sweep = %d, want 0", limiter.size())
	}
}

func TestTierBudgets(t *testing.T) {
	budgets := DefaultTierBudgets()

	if budgets.For(credentials.TierFree) != 100 {
		t.Errorf("free = %d", budgets.For(credentials.TierFree))
	}
	if budgets.For(credentials.TierEnterprise) != 5000 {
		t.Errorf("enterprise = %d", budgets.For(credentials.TierEnterprise))
	}
	// Unknown tiers fall back to the free budget.
	if budgets.For(credentials.SubscriptionTier("platinum")) != 100 {
		t.Errorf("unknown tier = %d, want free budget", budgets.For(credentials.SubscriptionTier("platinum")))
	}
}

func TestStrictKeyScopesEndpoint(t *testing.T) {
	a := StrictKey("agent_token_issue", "tenant:c1")
	b := StrictKey("password_reset", "tenant:c1")
	if a == b {
		t.Error("strict keys for different endpoints must differ")
	}
}
