package middleware

import (
	"context"

	"github.com/crewflow/crewflow/pkg/authz"
	"github.com/crewflow/crewflow/pkg/contextkeys"
	"github.com/crewflow/crewflow/pkg/credentials"
)

// PrincipalFrom returns the authenticated principal, or nil before the
// authentication stage has run.
func PrincipalFrom(ctx context.Context) *credentials.Principal {
	p, _ := ctx.Value(contextkeys.PrincipalKey).(*credentials.Principal)
	return p
}

// TenantFrom returns the resolved tenant, or nil for machine credentials
// and requests that have not passed tenant resolution.
func TenantFrom(ctx context.Context) *credentials.Tenant {
	t, _ := ctx.Value(contextkeys.TenantKey).(*credentials.Tenant)
	return t
}

// AgentFrom returns the verified agent identity for machine credentials,
// nil otherwise.
func AgentFrom(ctx context.Context) *credentials.AgentIdentity {
	a, _ := ctx.Value(contextkeys.AgentKey).(*credentials.AgentIdentity)
	return a
}

// CompanyRoleFrom returns the principal's company role as attached by
// tenant resolution.
func CompanyRoleFrom(ctx context.Context) (authz.CompanyRole, bool) {
	role, ok := ctx.Value(contextkeys.CompanyRoleKey).(authz.CompanyRole)
	return role, ok
}

// PermissionsFrom returns the effective permission set computed by the
// authorization stage. Handlers use it to shape responses by capability.
func PermissionsFrom(ctx context.Context) authz.PermissionSet {
	set, _ := ctx.Value(contextkeys.PermissionsKey).(authz.PermissionSet)
	return set
}

func withCompanyRole(ctx context.Context, role authz.CompanyRole) context.Context {
	return context.WithValue(ctx, contextkeys.CompanyRoleKey, role)
}
