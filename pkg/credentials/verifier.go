package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// UserClaims is the subset of identity-provider claims the pipeline consumes.
type UserClaims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// UserVerifier verifies an end-user bearer credential against the identity
// provider and returns its claims.
type UserVerifier interface {
	VerifyUserToken(ctx context.Context, raw string) (*UserClaims, error)
}

// OIDCVerifier verifies end-user credentials as OIDC ID tokens.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and builds a verifier for the given
// client ID.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// VerifyUserToken validates signature and expiry and extracts the claims the
// pipeline needs.
func (v *OIDCVerifier) VerifyUserToken(ctx context.Context, raw string) (*UserClaims, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to verify user token: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse token claims: %w", err)
	}

	return &UserClaims{
		Subject:   idToken.Subject,
		Email:     claims.Email,
		ExpiresAt: idToken.Expiry,
	}, nil
}
