// Package api wires the authorization pipeline around the control
// plane's HTTP surfaces.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crewflow/crewflow/pkg/audit"
	"github.com/crewflow/crewflow/pkg/authz"
	"github.com/crewflow/crewflow/pkg/credentials"
	"github.com/crewflow/crewflow/pkg/directory"
	"github.com/crewflow/crewflow/pkg/httputil"
	"github.com/crewflow/crewflow/pkg/middleware"
	"github.com/crewflow/crewflow/pkg/observability"
	"github.com/crewflow/crewflow/pkg/ratelimit"
)

// DefaultAgentTokenBudget is the strict per-window budget for the token
// issuance endpoint.
const DefaultAgentTokenBudget = 10

// Deps carries everything the server composes. Logger is required;
// Metrics, Health and Trail may be nil.
type Deps struct {
	Directory directory.Directory
	Users     credentials.UserVerifier
	Agents    *credentials.AgentTokenIssuer
	Limiter   ratelimit.Limiter
	Budgets   ratelimit.TierBudgets

	// AgentTokenBudget bounds token issuance per tenant per window.
	// Zero means DefaultAgentTokenBudget.
	AgentTokenBudget int
	// FailOpen admits requests when the limiter backend is down.
	FailOpen bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Health  *observability.HealthChecker
	Trail   *audit.Trail
}

// Server is the control plane HTTP server.
type Server struct {
	router *mux.Router
	deps   Deps

	authn   *middleware.Authenticator
	tenants *middleware.TenantResolver
	authzr  *middleware.Authorizer
	limits  *middleware.RateLimit
}

// NewServer assembles the pipeline and registers all routes.
func NewServer(deps Deps) *Server {
	if deps.AgentTokenBudget == 0 {
		deps.AgentTokenBudget = DefaultAgentTokenBudget
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		authn: middleware.NewAuthenticator(
			deps.Users, deps.Agents, deps.Directory, deps.Metrics, deps.Trail),
		tenants: middleware.NewTenantResolver(deps.Directory, deps.Metrics, deps.Trail),
		authzr: middleware.NewAuthorizer(
			deps.Directory, authz.NewResolver(authz.NewCatalog()), deps.Metrics, deps.Trail),
		limits: middleware.NewRateLimit(
			deps.Limiter, deps.Budgets, deps.FailOpen, deps.Metrics, deps.Trail),
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers every surface with its pipeline. Stage order is
// fixed: authenticate, tenant, suspension, authorize, rate limit.
func (s *Server) setupRoutes() {
	if s.deps.Health != nil {
		s.router.HandleFunc("/healthz", s.deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.deps.Health.Readiness).Methods("GET")
	}
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}

	s.router.Handle("/api/v1/session/policy",
		s.user(http.HandlerFunc(s.getSessionPolicy))).Methods("GET")

	s.router.Handle("/api/v1/company",
		s.user(http.HandlerFunc(s.getCompany),
			s.authzr.Require(authz.PermissionCompanyView))).Methods("GET")

	s.router.Handle("/api/v1/projects/{project_id}",
		s.user(http.HandlerFunc(s.getProject),
			s.authzr.Require(authz.PermissionProjectView))).Methods("GET")
	s.router.Handle("/api/v1/projects/{project_id}",
		s.user(http.HandlerFunc(s.updateProject),
			s.authzr.Require(authz.PermissionProjectEdit))).Methods("PUT")

	s.router.Handle("/api/v1/projects/{project_id}/agents/{agent_id}/token",
		s.user(http.HandlerFunc(s.issueAgentToken),
			s.authzr.Require(authz.PermissionAgentManage),
			s.limits.Strict("agent-token", s.deps.AgentTokenBudget))).Methods("POST")

	s.router.Handle("/api/v1/agent/self",
		s.agent(http.HandlerFunc(s.getAgentSelf))).Methods("GET")
}

// user wraps a handler with the full user pipeline. Extra stages
// (authorization, strict limits) slot in between suspension check and
// the standard rate limit.
func (s *Server) user(h http.Handler, extra ...func(http.Handler) http.Handler) http.Handler {
	stages := []func(http.Handler) http.Handler{
		s.authn.Handler,
		s.tenants.Handler,
		s.tenants.SuspensionCheck,
	}
	stages = append(stages, extra...)
	stages = append(stages, s.limits.Handler)
	return httputil.Chain(stages...)(h)
}

// agent wraps a handler with the machine-credential pipeline: agents are
// project-scoped, so tenant resolution and company authorization do not
// apply.
func (s *Server) agent(h http.Handler) http.Handler {
	return httputil.Chain(
		s.authn.Handler,
		middleware.RequireAgent,
		s.limits.Handler,
	)(h)
}

// Handler returns the fully wrapped root handler, including request ID,
// logging, recovery and metrics instrumentation.
func (s *Server) Handler() http.Handler {
	stages := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.deps.Logger),
		httputil.LoggingMiddleware(s.deps.Logger),
	}
	if s.deps.Metrics != nil {
		stages = append(stages, s.deps.Metrics.Middleware)
	}
	return httputil.Chain(stages...)(s.router)
}

// ServeHTTP implements http.Handler for tests that bypass the outer
// instrumentation.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
