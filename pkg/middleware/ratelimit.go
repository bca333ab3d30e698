package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/crewflow/crewflow/pkg/apierror"
	"github.com/crewflow/crewflow/pkg/audit"
	"github.com/crewflow/crewflow/pkg/credentials"
	"github.com/crewflow/crewflow/pkg/httputil"
	"github.com/crewflow/crewflow/pkg/observability"
	"github.com/crewflow/crewflow/pkg/ratelimit"
)

// RateLimit admits requests against the tenant's fixed-window budget.
// It runs after authentication and authorization so rejected credentials
// never consume budget and keys always come from verified identities.
//
// Key precedence: tenant, then principal, then source IP. All requests
// from one company share one window regardless of which member or route
// produced them.
type RateLimit struct {
	limiter  ratelimit.Limiter
	budgets  ratelimit.TierBudgets
	failOpen bool
	metrics  *observability.Metrics
	trail    *audit.Trail
	now      func() time.Time
}

// NewRateLimit creates the rate limit stage. failOpen controls behavior
// when the limiter backend errors: allow the request through (and log)
// or fail the request.
func NewRateLimit(limiter ratelimit.Limiter, budgets ratelimit.TierBudgets, failOpen bool, metrics *observability.Metrics, trail *audit.Trail) *RateLimit {
	if budgets == nil {
		budgets = ratelimit.DefaultTierBudgets()
	}
	return &RateLimit{
		limiter:  limiter,
		budgets:  budgets,
		failOpen: failOpen,
		metrics:  metrics,
		trail:    trail,
		now:      time.Now,
	}
}

// Handler wraps next with the standard per-tenant budget.
func (m *RateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, scope, budget := m.keyFor(r)
		if m.admit(w, r, key, scope, budget) {
			next.ServeHTTP(w, r)
		}
	})
}

// Strict returns a middleware with a tighter, endpoint-scoped budget for
// sensitive operations. Its counters live in their own key namespace, so
// strict rejections never consume the standard budget and vice versa.
func (m *RateLimit) Strict(endpoint string, budget int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, scope, _ := m.keyFor(r)
			if m.admit(w, r, ratelimit.StrictKey(endpoint, key), "strict:"+scope, budget) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// keyFor derives the limiter key, its scope label, and the applicable
// budget. Requests without a tenant (machine credentials, unresolved
// principals) fall back to the free-tier budget.
func (m *RateLimit) keyFor(r *http.Request) (key, scope string, budget int) {
	if tenant := TenantFrom(r.Context()); tenant != nil {
		return "tenant:" + tenant.ID, "tenant", m.budgets.For(tenant.Tier)
	}
	if principal := PrincipalFrom(r.Context()); principal != nil {
		return "user:" + principal.ID, "user", m.budgets.For(credentials.TierFree)
	}
	return "ip:" + httputil.ClientIP(r), "ip", m.budgets.For(credentials.TierFree)
}

func (m *RateLimit) admit(w http.ResponseWriter, r *http.Request, key, scope string, budget int) bool {
	decision, err := m.limiter.Admit(r.Context(), key, budget)
	if err != nil {
		if m.failOpen {
			observability.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable, admitting request")
			m.countDecision(scope, "error")
			return true
		}
		m.countDecision(scope, "error")
		httputil.WriteAPIError(w, err)
		return false
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.UnixMilli(), 10))

	if !decision.Allowed {
		m.countDecision(scope, "rejected")
		m.trail.Record(r.Context(), audit.FromRequest(r, audit.EventRateLimited, "rate limit exceeded"))
		httputil.WriteAPIError(w, apierror.RateLimited("rate limit exceeded", decision.RetryAfter(m.now())))
		return false
	}

	m.countDecision(scope, "allowed")
	return true
}

func (m *RateLimit) countDecision(scope, outcome string) {
	if m.metrics != nil {
		m.metrics.RateLimitDecisionsTotal.WithLabelValues(scope, outcome).Inc()
	}
}
