// Package credentials defines the authenticated identities that flow through
// the request pipeline and the two credential types the platform issues:
// end-user credentials (verified against the identity provider) and
// machine/agent credentials (signed locally, scoped to one project).
package credentials

import "time"

// CredentialType distinguishes the two token shapes by their "type" claim.
type CredentialType string

const (
	CredentialTypeUser  CredentialType = "user"
	CredentialTypeAgent CredentialType = "agent"
)

// SubscriptionTier parameterizes a tenant's rate budget.
type SubscriptionTier string

const (
	TierFree         SubscriptionTier = "free"
	TierStarter      SubscriptionTier = "starter"
	TierProfessional SubscriptionTier = "professional"
	TierEnterprise   SubscriptionTier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t SubscriptionTier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierProfessional, TierEnterprise:
		return true
	}
	return false
}

// Principal is the authenticated identity attached to a request. It is
// re-derived from verified claims on every request, never cached server-side.
type Principal struct {
	ID    string         `json:"id"`
	Email string         `json:"email"`
	Type  CredentialType `json:"type"`
}

// Tenant is the resolved company context for a request.
type Tenant struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Tier SubscriptionTier `json:"tier"`
}

// AgentIdentity is the verified identity carried by a machine credential.
type AgentIdentity struct {
	AgentID   string    `json:"agent_id"`
	ProjectID string    `json:"project_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
