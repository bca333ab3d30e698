package middleware

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crewflow/crewflow/pkg/apierror"
	"github.com/crewflow/crewflow/pkg/audit"
	"github.com/crewflow/crewflow/pkg/contextkeys"
	"github.com/crewflow/crewflow/pkg/credentials"
	"github.com/crewflow/crewflow/pkg/directory"
	"github.com/crewflow/crewflow/pkg/httputil"
	"github.com/crewflow/crewflow/pkg/observability"
)

// Authenticator verifies bearer credentials and attaches the resulting
// principal to the request context. It accepts both end-user tokens
// (verified against the identity provider) and machine tokens issued by
// the platform, routed by the token's "type" claim. The claim only
// selects the verification path; nothing is trusted until the signature
// checks out.
type Authenticator struct {
	users   credentials.UserVerifier
	agents  *credentials.AgentTokenIssuer
	dir     directory.Directory
	metrics *observability.Metrics
	trail   *audit.Trail
}

// NewAuthenticator creates the authentication stage. metrics and trail
// may be nil.
func NewAuthenticator(users credentials.UserVerifier, agents *credentials.AgentTokenIssuer, dir directory.Directory, metrics *observability.Metrics, trail *audit.Trail) *Authenticator {
	return &Authenticator{
		users:   users,
		agents:  agents,
		dir:     dir,
		metrics: metrics,
		trail:   trail,
	}
}

// Handler wraps next with credential verification. Requests without a
// valid credential are rejected here and never reach later stages.
func (m *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := httputil.BearerToken(r)
		if err != nil {
			m.reject(w, r, credentials.CredentialTypeUser, err)
			return
		}

		if credentials.IsAgentToken(token) {
			m.serveAgent(w, r, next, token)
			return
		}
		m.serveUser(w, r, next, token)
	})
}

func (m *Authenticator) serveUser(w http.ResponseWriter, r *http.Request, next http.Handler, token string) {
	claims, err := m.users.VerifyUserToken(r.Context(), token)
	if err != nil {
		m.reject(w, r, credentials.CredentialTypeUser, apierror.Authenticationf(err, "invalid or expired token"))
		return
	}

	principal := &credentials.Principal{
		ID:    claims.Subject,
		Email: claims.Email,
		Type:  credentials.CredentialTypeUser,
	}
	m.countAuth(credentials.CredentialTypeUser, "success")

	ctx := contextkeys.WithPrincipal(r.Context(), principal)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (m *Authenticator) serveAgent(w http.ResponseWriter, r *http.Request, next http.Handler, token string) {
	identity, err := m.agents.Verify(token)
	if err != nil {
		m.reject(w, r, credentials.CredentialTypeAgent, apierror.Authenticationf(err, "invalid or expired token"))
		return
	}

	// A token bound to one project never grants access to another,
	// regardless of the agent's current status.
	if routeProject := mux.Vars(r)["project_id"]; routeProject != "" && routeProject != identity.ProjectID {
		m.reject(w, r, credentials.CredentialTypeAgent, apierror.Authentication("token is not valid for this project"))
		return
	}

	record, err := m.dir.Agent(r.Context(), identity.AgentID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			m.reject(w, r, credentials.CredentialTypeAgent, apierror.Authentication("unknown agent"))
			return
		}
		m.countAuth(credentials.CredentialTypeAgent, "error")
		httputil.WriteAPIError(w, err)
		return
	}
	if record.ProjectID != identity.ProjectID {
		m.reject(w, r, credentials.CredentialTypeAgent, apierror.Authentication("token is not valid for this project"))
		return
	}
	if !record.Active {
		m.reject(w, r, credentials.CredentialTypeAgent, apierror.Authentication("agent is not active"))
		return
	}

	principal := &credentials.Principal{
		ID:   identity.AgentID,
		Type: credentials.CredentialTypeAgent,
	}
	m.countAuth(credentials.CredentialTypeAgent, "success")

	ctx := contextkeys.WithPrincipal(r.Context(), principal)
	ctx = contextkeys.WithAgent(ctx, identity)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (m *Authenticator) reject(w http.ResponseWriter, r *http.Request, credType credentials.CredentialType, err error) {
	m.countAuth(credType, "failure")
	m.trail.Record(r.Context(), audit.FromRequest(r, audit.EventAuthFailure, apierror.AsError(err).Message))
	httputil.WriteAPIError(w, err)
}

func (m *Authenticator) countAuth(credType credentials.CredentialType, outcome string) {
	if m.metrics != nil {
		m.metrics.AuthAttemptsTotal.WithLabelValues(string(credType), outcome).Inc()
	}
}

// RequireAgent gates routes that only machine credentials may call.
func RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AgentFrom(r.Context()) == nil {
			httputil.WriteAPIError(w, apierror.Authorization("agent credential required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
