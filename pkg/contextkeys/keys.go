// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *credentials.Principal
	// Set by: middleware.Authenticator
	// Required by: tenant resolution, suspension check, authorization, handlers
	PrincipalKey Key = "principal"

	// TenantKey contains *credentials.Tenant
	// Set by: middleware.TenantResolver
	// Required by: authorization, rate limiting, tenant-scoped handlers
	TenantKey Key = "tenant"

	// CompanyRoleKey contains authz.CompanyRole
	// Set by: middleware.TenantResolver from the membership record
	// Required by: middleware.Authorizer
	CompanyRoleKey Key = "company_role"

	// PermissionsKey contains authz.PermissionSet
	// Set by: middleware.Authorizer
	// Used by: handlers that shape responses by permission (admin vs member)
	PermissionsKey Key = "permissions"

	// AgentKey contains *credentials.AgentIdentity
	// Set by: middleware.Authenticator for machine credentials
	AgentKey Key = "agent"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	LoggerKey Key = "logger"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithTenant adds the resolved tenant to the context
func WithTenant(ctx context.Context, tenant interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// WithPermissions adds the effective permission set to the context
func WithPermissions(ctx context.Context, set interface{}) context.Context {
	return context.WithValue(ctx, PermissionsKey, set)
}

// WithAgent adds the authenticated agent identity to the context
func WithAgent(ctx context.Context, agent interface{}) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
