package directory

import (
	"context"
	"sync"

	"github.com/crewflow/crewflow/pkg/authz"
)

// MemoryDirectory is an in-memory Directory for single-instance deployments
// and tests.
type MemoryDirectory struct {
	mu           sync.RWMutex
	memberships  map[string]*Membership            // userID -> membership
	suspended    map[string]bool                   // userID -> flag
	projectRoles map[string]map[string]authz.ProjectRole // userID -> projectID -> role
	agents       map[string]*Agent                 // agentID -> record
	projects     map[string]*Project               // projectID -> record
	members      map[string][]Member               // companyID -> roster
	policies     map[string]*SessionPolicy         // userID -> policy
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		memberships:  make(map[string]*Membership),
		suspended:    make(map[string]bool),
		projectRoles: make(map[string]map[string]authz.ProjectRole),
		agents:       make(map[string]*Agent),
		projects:     make(map[string]*Project),
		members:      make(map[string][]Member),
		policies:     make(map[string]*SessionPolicy),
	}
}

// SetMembership registers a user's company membership.
func (d *MemoryDirectory) SetMembership(userID string, m Membership) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memberships[userID] = &m
}

// SetSuspended sets a user's suspension flag.
func (d *MemoryDirectory) SetSuspended(userID string, suspended bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended[userID] = suspended
}

// SetProjectRole assigns a project role to a user.
func (d *MemoryDirectory) SetProjectRole(userID, projectID string, role authz.ProjectRole) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.projectRoles[userID] == nil {
		d.projectRoles[userID] = make(map[string]authz.ProjectRole)
	}
	d.projectRoles[userID][projectID] = role
}

// SetAgent registers an agent record.
func (d *MemoryDirectory) SetAgent(a Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[a.ID] = &a
}

// SetProject registers a project record.
func (d *MemoryDirectory) SetProject(p Project) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projects[p.ID] = &p
}

// SetMembers replaces a company's member roster.
func (d *MemoryDirectory) SetMembers(companyID string, members []Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[companyID] = append([]Member(nil), members...)
}

// SetSessionPolicy sets a user's session policy.
func (d *MemoryDirectory) SetSessionPolicy(userID string, p SessionPolicy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policies[userID] = &p
}

// Membership implements Directory.
func (d *MemoryDirectory) Membership(ctx context.Context, userID string) (*Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.memberships[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *m
	return &out, nil
}

// IsSuspended implements Directory.
func (d *MemoryDirectory) IsSuspended(ctx context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.suspended[userID], nil
}

// ProjectRole implements Directory.
func (d *MemoryDirectory) ProjectRole(ctx context.Context, userID, projectID string) (authz.ProjectRole, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if roles, ok := d.projectRoles[userID]; ok {
		if role, ok := roles[projectID]; ok {
			return role, nil
		}
	}
	return authz.ProjectRoleNone, nil
}

// Agent implements Directory.
func (d *MemoryDirectory) Agent(ctx context.Context, agentID string) (*Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

// Project implements Directory.
func (d *MemoryDirectory) Project(ctx context.Context, projectID string) (*Project, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

// UpdateProject implements Directory.
func (d *MemoryDirectory) UpdateProject(ctx context.Context, project *Project) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.projects[project.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Name = project.Name
	existing.Description = project.Description
	return nil
}

// Members implements Directory.
func (d *MemoryDirectory) Members(ctx context.Context, companyID string) ([]Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Member(nil), d.members[companyID]...), nil
}

// SessionPolicy implements Directory.
func (d *MemoryDirectory) SessionPolicy(ctx context.Context, userID string) (*SessionPolicy, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.policies[userID]; ok {
		out := *p
		return &out, nil
	}
	return ResolvePolicy(0, false, 0), nil
}
