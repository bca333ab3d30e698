// Package directory provides the authoritative lookups the request pipeline
// depends on: company membership, suspension flags, project roles, agent
// records and session-timeout policy. Implementations: Postgres for
// deployments, an in-memory store for single-instance and test use.
package directory

import (
	"context"
	"errors"

	"github.com/crewflow/crewflow/pkg/authz"
	"github.com/crewflow/crewflow/pkg/credentials"
)

// ErrNotFound is returned when a lookup has no matching record.
var ErrNotFound = errors.New("directory: not found")

// Membership is a user's single company membership: the company record plus
// the user's company-axis role. One company per user; multi-company
// membership is not modeled.
type Membership struct {
	CompanyID   string
	CompanyName string
	Role        authz.CompanyRole
	Tier        credentials.SubscriptionTier
}

// Agent is an automated-agent record scoped to one project.
type Agent struct {
	ID        string
	ProjectID string
	Name      string
	Active    bool
}

// Project is a project record within one company.
type Project struct {
	ID          string `json:"id"`
	CompanyID   string `json:"companyId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Member is one row of a company's member roster.
type Member struct {
	UserID string            `json:"userId"`
	Email  string            `json:"email"`
	Role   authz.CompanyRole `json:"role"`
}

// SessionPolicy is the effective session-timeout policy for a user, layered
// company enforcement > user preference > system default.
type SessionPolicy struct {
	TimeoutMinutes    int    `json:"timeoutMinutes"`
	IsCompanyEnforced bool   `json:"isCompanyEnforced"`
	CompanyTimeout    int    `json:"companyTimeout"`
	UserTimeout       int    `json:"userTimeout"`
	Source            string `json:"source"`
}

// Session policy provenance values.
const (
	PolicySourceUser           = "user"
	PolicySourceCompany        = "company"
	PolicySourceCompanyDefault = "company_default"
	PolicySourceSystem         = "system"
)

// DefaultSessionTimeoutMinutes is the system fallback inactivity budget.
const DefaultSessionTimeoutMinutes = 30

// Directory is the set of authoritative lookups consumed by the pipeline.
// Every method performs exactly one indexed lookup; results are never cached
// across requests.
type Directory interface {
	// Membership returns the user's company membership, or ErrNotFound when
	// the user belongs to no company.
	Membership(ctx context.Context, userID string) (*Membership, error)

	// IsSuspended returns the user's suspension flag.
	IsSuspended(ctx context.Context, userID string) (bool, error)

	// ProjectRole returns the user's role on a project, or ProjectRoleNone
	// when no assignment exists.
	ProjectRole(ctx context.Context, userID, projectID string) (authz.ProjectRole, error)

	// Agent returns an agent record, or ErrNotFound.
	Agent(ctx context.Context, agentID string) (*Agent, error)

	// Project returns a project record, or ErrNotFound.
	Project(ctx context.Context, projectID string) (*Project, error)

	// UpdateProject persists a project's mutable fields, or ErrNotFound.
	UpdateProject(ctx context.Context, project *Project) error

	// Members returns a company's member roster ordered by email.
	Members(ctx context.Context, companyID string) ([]Member, error)

	// SessionPolicy returns the layered session-timeout policy for a user.
	SessionPolicy(ctx context.Context, userID string) (*SessionPolicy, error)
}

// ResolvePolicy computes the effective policy from its layers. Exported so
// both directory implementations share one precedence rule.
func ResolvePolicy(companyTimeout int, companyEnforced bool, userTimeout int) *SessionPolicy {
	policy := &SessionPolicy{
		CompanyTimeout: companyTimeout,
		UserTimeout:    userTimeout,
	}

	switch {
	case companyEnforced && companyTimeout > 0:
		policy.TimeoutMinutes = companyTimeout
		policy.IsCompanyEnforced = true
		policy.Source = PolicySourceCompany
	case userTimeout > 0:
		policy.TimeoutMinutes = userTimeout
		policy.Source = PolicySourceUser
	case companyTimeout > 0:
		policy.TimeoutMinutes = companyTimeout
		policy.Source = PolicySourceCompanyDefault
	default:
		policy.TimeoutMinutes = DefaultSessionTimeoutMinutes
		policy.Source = PolicySourceSystem
	}
	return policy
}
