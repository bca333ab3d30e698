// Package middleware implements the request authorization pipeline.
//
// # Pipeline Order
//
// Stages run in a fixed order; each stage depends on context values set
// by the previous one:
//
//  1. Authenticate  - verify the bearer credential, attach the principal
//  2. ResolveTenant - map the principal to its company (skipped for agents)
//  3. SuspensionCheck - reject suspended accounts before any authorization
//  4. Require/RequireAny - compute effective permissions, enforce access
//  5. RateLimit - admit or reject against the tenant's window budget
//
// Rate limiting runs last so that rejected credentials never consume
// budget and limiter keys are always derived from verified identities.
//
// # Wiring
//
//	authn := middleware.NewAuthenticator(users, agents, dir, metrics, trail)
//	tenants := middleware.NewTenantResolver(dir, metrics, trail)
//	authzr := middleware.NewAuthorizer(dir, resolver, metrics, trail)
//	limits := middleware.NewRateLimit(limiter, budgets, failOpen, metrics, trail)
//
//	route.Use(authn.Handler, tenants.Handler, tenants.SuspensionCheck,
//		authzr.Require(authz.PermissionProjectView), limits.Handler)
package middleware
