package middleware

import (
	"errors"
	"net/http"

	"github.com/crewflow/crewflow/pkg/apierror"
	"github.com/crewflow/crewflow/pkg/audit"
	"github.com/crewflow/crewflow/pkg/contextkeys"
	"github.com/crewflow/crewflow/pkg/credentials"
	"github.com/crewflow/crewflow/pkg/directory"
	"github.com/crewflow/crewflow/pkg/httputil"
	"github.com/crewflow/crewflow/pkg/observability"
)

// TenantResolver maps an authenticated user to their company and runs the
// suspension check. Machine credentials are project-scoped, not
// company-scoped, so both stages pass them through untouched.
type TenantResolver struct {
	dir     directory.Directory
	metrics *observability.Metrics
	trail   *audit.Trail
}

// NewTenantResolver creates the tenant resolution stage.
func NewTenantResolver(dir directory.Directory, metrics *observability.Metrics, trail *audit.Trail) *TenantResolver {
	return &TenantResolver{dir: dir, metrics: metrics, trail: trail}
}

// Handler attaches the tenant and company role for the principal. A user
// with no company membership cannot be placed in any tenant and is
// rejected as unauthenticated.
func (m *TenantResolver) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AgentFrom(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		principal := PrincipalFrom(r.Context())
		if principal == nil {
			httputil.WriteAPIError(w, apierror.Authentication("authentication required"))
			return
		}

		membership, err := m.dir.Membership(r.Context(), principal.ID)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				m.trail.Record(r.Context(), audit.FromRequest(r, audit.EventAuthFailure, "no company membership"))
				httputil.WriteAPIError(w, apierror.Authentication("no company membership"))
				return
			}
			httputil.WriteAPIError(w, err)
			return
		}

		tenant := &credentials.Tenant{
			ID:   membership.CompanyID,
			Name: membership.CompanyName,
			Tier: membership.Tier,
		}

		ctx := contextkeys.WithTenant(r.Context(), tenant)
		ctx = withCompanyRole(ctx, membership.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SuspensionCheck rejects suspended accounts before any authorization or
// rate limit work happens. Suspension is a credential-level failure: the
// client reacts the same way as to an expired token.
func (m *TenantResolver) SuspensionCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AgentFrom(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		principal := PrincipalFrom(r.Context())
		if principal == nil {
			httputil.WriteAPIError(w, apierror.Authentication("authentication required"))
			return
		}

		suspended, err := m.dir.IsSuspended(r.Context(), principal.ID)
		if err != nil {
			httputil.WriteAPIError(w, err)
			return
		}
		if suspended {
			m.trail.Record(r.Context(), audit.FromRequest(r, audit.EventSuspendedAccess, "account suspended"))
			httputil.WriteAPIError(w, apierror.Authentication("account suspended"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
