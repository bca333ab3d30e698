package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crewflow/crewflow/pkg/apierror"
	"github.com/crewflow/crewflow/pkg/audit"
	"github.com/crewflow/crewflow/pkg/authz"
	"github.com/crewflow/crewflow/pkg/contextkeys"
	"github.com/crewflow/crewflow/pkg/directory"
	"github.com/crewflow/crewflow/pkg/httputil"
	"github.com/crewflow/crewflow/pkg/observability"
)

// Authorizer computes the effective permission set for a request and
// enforces the permissions a route requires. The set is the union of the
// company-role grant and, when the route addresses a project, the
// project-role grant; permissions only widen, never narrow.
type Authorizer struct {
	dir      directory.Directory
	resolver *authz.Resolver
	metrics  *observability.Metrics
	trail    *audit.Trail
}

// NewAuthorizer creates the authorization stage.
func NewAuthorizer(dir directory.Directory, resolver *authz.Resolver, metrics *observability.Metrics, trail *audit.Trail) *Authorizer {
	return &Authorizer{dir: dir, resolver: resolver, metrics: metrics, trail: trail}
}

// Require enforces that the principal holds the given permission. The
// computed permission set is attached to the context for handlers that
// shape responses by capability.
func (m *Authorizer) Require(perm authz.Permission) func(http.Handler) http.Handler {
	return m.enforce(func(set authz.PermissionSet) bool {
		return set.Has(perm)
	})
}

// RequireAny enforces that the principal holds at least one of the given
// permissions.
func (m *Authorizer) RequireAny(perms ...authz.Permission) func(http.Handler) http.Handler {
	return m.enforce(func(set authz.PermissionSet) bool {
		return set.HasAny(perms...)
	})
}

func (m *Authorizer) enforce(allowed func(authz.PermissionSet) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AgentFrom(r.Context()) != nil {
				m.deny(w, r, "machine credentials cannot access this resource")
				return
			}

			principal := PrincipalFrom(r.Context())
			companyRole, ok := CompanyRoleFrom(r.Context())
			if principal == nil || !ok {
				httputil.WriteAPIError(w, apierror.Authentication("authentication required"))
				return
			}

			// The project axis only participates when the route
			// addresses a project. No assignment is not an error;
			// the company grant alone may still suffice.
			projectRole := authz.ProjectRoleNone
			if projectID := mux.Vars(r)["project_id"]; projectID != "" {
				role, err := m.dir.ProjectRole(r.Context(), principal.ID, projectID)
				if err != nil {
					httputil.WriteAPIError(w, err)
					return
				}
				projectRole = role
			}

			set := m.resolver.Resolve(companyRole, projectRole)
			if !allowed(set) {
				m.deny(w, r, "insufficient permissions")
				return
			}
			m.countDecision("allowed")

			ctx := contextkeys.WithPermissions(r.Context(), set)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m *Authorizer) deny(w http.ResponseWriter, r *http.Request, message string) {
	m.countDecision("denied")
	m.trail.Record(r.Context(), audit.FromRequest(r, audit.EventAccessDenied, message))
	httputil.WriteAPIError(w, apierror.Authorization(message))
}

func (m *Authorizer) countDecision(outcome string) {
	if m.metrics != nil {
		m.metrics.AuthzDecisionsTotal.WithLabelValues(outcome).Inc()
	}
}
