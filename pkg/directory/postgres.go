package directory

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // postgres driver

	"github.com/crewflow/crewflow/pkg/authz"
	"github.com/crewflow/crewflow/pkg/credentials"
)

// PostgresDirectory is the Postgres-backed Directory.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory over an existing connection pool.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Membership implements Directory with a single indexed join.
func (d *PostgresDirectory) Membership(ctx context.Context, userID string) (*Membership, error) {
	query := `
		SELECT c.id, c.name, cm.role, c.subscription_tier
		FROM company_members cm
		JOIN companies c ON c.id = cm.company_id
		WHERE cm.user_id = $1
	`

	var m Membership
	var role string
	var tier string
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&m.CompanyID, &m.CompanyName, &role, &tier)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up membership: %w", err)
	}

	m.Role = authz.CompanyRole(role)
	m.Tier = credentials.SubscriptionTier(tier)
	if !m.Role.Valid() {
		return nil, fmt.Errorf("membership for user %s carries unknown role %q", userID, role)
	}
	if !m.Tier.Valid() {
		return nil, fmt.Errorf("company %s carries unknown tier %q", m.CompanyID, tier)
	}
	return &m, nil
}

// IsSuspended implements Directory.
func (d *PostgresDirectory) IsSuspended(ctx context.Context, userID string) (bool, error) {
	query := `SELECT suspended FROM users WHERE id = $1`

	var suspended bool
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&suspended)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up suspension flag: %w", err)
	}
	return suspended, nil
}

// ProjectRole implements Directory. Absence of an assignment is not an error.
func (d *PostgresDirectory) ProjectRole(ctx context.Context, userID, projectID string) (authz.ProjectRole, error) {
	query := `SELECT role FROM project_members WHERE user_id = $1 AND project_id = $2`

	var role string
	err := d.db.QueryRowContext(ctx, query, userID, projectID).Scan(&role)
	if err == sql.ErrNoRows {
		return authz.ProjectRoleNone, nil
	}
	if err != nil {
		return authz.ProjectRoleNone, fmt.Errorf("failed to look up project role: %w", err)
	}

	projectRole := authz.ProjectRole(role)
	if !projectRole.Valid() {
		return authz.ProjectRoleNone, fmt.Errorf("project member %s/%s carries unknown role %q", userID, projectID, role)
	}
	return projectRole, nil
}

// Agent implements Directory.
func (d *PostgresDirectory) Agent(ctx context.Context, agentID string) (*Agent, error) {
	query := `SELECT id, project_id, name, active FROM agents WHERE id = $1`

	var a Agent
	err := d.db.QueryRowContext(ctx, query, agentID).Scan(&a.ID, &a.ProjectID, &a.Name, &a.Active)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up agent: %w", err)
	}
	return &a, nil
}

// Project implements Directory.
func (d *PostgresDirectory) Project(ctx context.Context, projectID string) (*Project, error) {
	query := `SELECT id, company_id, name, COALESCE(description, '') FROM projects WHERE id = $1`

	var p Project
	err := d.db.QueryRowContext(ctx, query, projectID).Scan(&p.ID, &p.CompanyID, &p.Name, &p.Description)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up project: %w", err)
	}
	return &p, nil
}

// UpdateProject implements Directory.
func (d *PostgresDirectory) UpdateProject(ctx context.Context, project *Project) error {
	query := `UPDATE projects SET name = $2, description = $3, updated_at = NOW() WHERE id = $1`

	result, err := d.db.ExecContext(ctx, query, project.ID, project.Name, project.Description)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Members implements Directory.
func (d *PostgresDirectory) Members(ctx context.Context, companyID string) ([]Member, error) {
	query := `
		SELECT u.id, u.email, cm.role
		FROM company_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.company_id = $1
		ORDER BY u.email
	`

	rows, err := d.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var role string
		if err := rows.Scan(&m.UserID, &m.Email, &role); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = authz.CompanyRole(role)
		if !m.Role.Valid() {
			return nil, fmt.Errorf("member %s carries unknown role %q", m.UserID, role)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// SessionPolicy implements Directory. Company enforcement and user
// preference come from one join; precedence is applied by ResolvePolicy.
func (d *PostgresDirectory) SessionPolicy(ctx context.Context, userID string) (*SessionPolicy, error) {
	query := `
		SELECT COALESCE(c.session_timeout_minutes, 0),
		       COALESCE(c.session_timeout_enforced, FALSE),
		       COALESCE(u.session_timeout_minutes, 0)
		FROM users u
		LEFT JOIN company_members cm ON cm.user_id = u.id
		LEFT JOIN companies c ON c.id = cm.company_id
		WHERE u.id = $1
	`

	var companyTimeout, userTimeout int
	var enforced bool
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&companyTimeout, &enforced, &userTimeout)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session policy: %w", err)
	}

	return ResolvePolicy(companyTimeout, enforced, userTimeout), nil
}
