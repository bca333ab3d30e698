// Package ratelimit implements fixed-window request budgets behind a small
// counter interface. The in-memory store serves single-instance deployments
// and tests; the Redis store shares windows across instances with an atomic
// increment-and-expire.
package ratelimit

import (
	"context"
	"time"

	"github.com/crewflow/crewflow/pkg/credentials"
)

// DefaultWindow is the reference window length.
const DefaultWindow = time.Minute

// Decision is the outcome of an admission check, with the header-ready
// budget accounting the response contract requires.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the time until the window resets, floored at zero.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.Before(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter admits or rejects one request against a keyed fixed window.
// The read-increment-compare sequence is atomic per key in every
// implementation.
type Limiter interface {
	Admit(ctx context.Context, key string, budget int) (Decision, error)
}

// TierBudgets maps subscription tiers to requests per window.
type TierBudgets map[credentials.SubscriptionTier]int

// DefaultTierBudgets returns the reference per-window budgets.
func DefaultTierBudgets() TierBudgets {
	return TierBudgets{
		credentials.TierFree:         100,
		credentials.TierStarter:      500,
		credentials.TierProfessional: 1000,
		credentials.TierEnterprise:   5000,
	}
}

// For returns the budget for a tier. Unknown tiers get the free budget so a
// mis-tagged tenant is throttled, not unbounded.
func (b TierBudgets) For(tier credentials.SubscriptionTier) int {
	if budget, ok := b[tier]; ok {
		return budget
	}
	return b[credentials.TierFree]
}

// StrictKey scopes a rate-limit key to a single sensitive endpoint, for the
// narrower limiter variant used on operations like credential issuance.
func StrictKey(endpoint, key string) string {
	return "strict:" + endpoint + ":" + key
}
