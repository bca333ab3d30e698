package authz

import "sort"

// PermissionSet is an effective permission set: the union of the grants from
// the two role axes.
type PermissionSet map[Permission]struct{}

// Has reports whether the set contains p.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// HasAny reports whether the set contains at least one of perms.
// Used by OR-semantics endpoints.
func (s PermissionSet) HasAny(perms ...Permission) bool {
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// List returns the permissions in sorted order, for stable responses and logs.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolver computes effective permission sets against an immutable catalog.
type Resolver struct {
	catalog *Catalog
}

// NewResolver creates a resolver over the given catalog.
func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve returns the union of the company-role grants and, when a project
// role is present, the project-role grants. Pure function, no I/O: callers
// with no project context pass ProjectRoleNone.
func (r *Resolver) Resolve(companyRole CompanyRole, projectRole ProjectRole) PermissionSet {
	set := make(PermissionSet)
	for _, p := range r.catalog.companyRoles[companyRole] {
		set[p] = struct{}{}
	}
	if projectRole != ProjectRoleNone {
		for _, p := range r.catalog.projectRoles[projectRole] {
			set[p] = struct{}{}
		}
	}
	return set
}
