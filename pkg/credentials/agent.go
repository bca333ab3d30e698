package credentials

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAgentTokenLifetime is the default validity of a machine credential.
const DefaultAgentTokenLifetime = 30 * 24 * time.Hour

// AgentClaims is the claim set of a machine credential:
// {agent_id, project_id, type:"agent", iat, exp}.
type AgentClaims struct {
	AgentID   string `json:"agent_id"`
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

// AgentTokenIssuer signs and verifies machine credentials with a shared
// HMAC secret.
type AgentTokenIssuer struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// AgentIssuerOption configures an AgentTokenIssuer.
type AgentIssuerOption func(*AgentTokenIssuer)

// WithLifetime overrides the default token lifetime.
func WithLifetime(d time.Duration) AgentIssuerOption {
	return func(i *AgentTokenIssuer) { i.lifetime = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) AgentIssuerOption {
	return func(i *AgentTokenIssuer) { i.now = now }
}

// NewAgentTokenIssuer creates an issuer with the given signing secret.
func NewAgentTokenIssuer(secret []byte, opts ...AgentIssuerOption) (*AgentTokenIssuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("agent token signing secret is required")
	}
	issuer := &AgentTokenIssuer{
		secret:   secret,
		lifetime: DefaultAgentTokenLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// Issue signs a machine credential for the given agent/project binding.
// Returns the signed token and its expiry.
func (i *AgentTokenIssuer) Issue(agentID, projectID string) (string, time.Time, error) {
	if agentID == "" || projectID == "" {
		return "", time.Time{}, fmt.Errorf("agent_id and project_id are required")
	}

	now := i.now()
	expiresAt := now.Add(i.lifetime)
	claims := AgentClaims{
		AgentID:   agentID,
		ProjectID: projectID,
		Type:      string(CredentialTypeAgent),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign agent token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature, expiry and type claim of a machine credential
// and returns the agent identity it carries. The agent's active status and
// the project binding are enforced by the caller against the directory.
func (i *AgentTokenIssuer) Verify(raw string) (*AgentIdentity, error) {
	claims := &AgentClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	token, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid agent token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid agent token")
	}
	if claims.Type != string(CredentialTypeAgent) {
		return nil, fmt.Errorf("token type %q is not an agent credential", claims.Type)
	}
	if claims.AgentID == "" || claims.ProjectID == "" {
		return nil, fmt.Errorf("agent token missing agent_id or project_id claim")
	}

	return &AgentIdentity{
		AgentID:   claims.AgentID,
		ProjectID: claims.ProjectID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// IsAgentToken inspects the unverified type claim to route a bearer token to
// the agent verification path. The claim is only trusted after Verify.
func IsAgentToken(raw string) bool {
	claims := &AgentClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return false
	}
	return claims.Type == string(CredentialTypeAgent)
}
