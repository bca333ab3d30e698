// Package authz holds the static permission catalog and the resolver that
// computes a principal's effective permission set from their company role and
// optional project role.
package authz

// Permission is an opaque "resource:action" identifier. The catalog is closed
// and known at build time.
type Permission string

const (
	PermissionCompanyView          Permission = "company:view"
	PermissionCompanyEdit          Permission = "company:edit"
	PermissionCompanyDelete        Permission = "company:delete"
	PermissionCompanyManageBilling Permission = "company:manage_billing"
	PermissionCompanyManageMembers Permission = "company:manage_members"

	PermissionProjectView   Permission = "project:view"
	PermissionProjectCreate Permission = "project:create"
	PermissionProjectEdit   Permission = "project:edit"
	PermissionProjectDelete Permission = "project:delete"

	PermissionAgentView   Permission = "agent:view"
	PermissionAgentManage Permission = "agent:manage"

	PermissionTransferView   Permission = "transfer:view"
	PermissionTransferCreate Permission = "transfer:create"
	PermissionTransferCancel Permission = "transfer:cancel"

	PermissionUserInvite Permission = "user:invite"
	PermissionUserRemove Permission = "user:remove"
)

// CompanyRole is the company-axis role, assigned once per (user, company).
type CompanyRole string

const (
	CompanyRoleOwner  CompanyRole = "owner"
	CompanyRoleAdmin  CompanyRole = "admin"
	CompanyRoleMember CompanyRole = "member"
)

// Valid reports whether r is a known company role.
func (r CompanyRole) Valid() bool {
	switch r {
	case CompanyRoleOwner, CompanyRoleAdmin, CompanyRoleMember:
		return true
	}
	return false
}

// ProjectRole is the project-axis role, assigned per (user, project).
// ProjectRoleNone marks the absence of a project-role assignment.
type ProjectRole string

const (
	ProjectRoleAdmin  ProjectRole = "admin"
	ProjectRoleEditor ProjectRole = "editor"
	ProjectRoleViewer ProjectRole = "viewer"
	ProjectRoleNone   ProjectRole = ""
)

// Valid reports whether r is a known project role (None counts).
func (r ProjectRole) Valid() bool {
	switch r {
	case ProjectRoleAdmin, ProjectRoleEditor, ProjectRoleViewer, ProjectRoleNone:
		return true
	}
	return false
}

// Catalog is the immutable permission registry. It is constructed once at
// process start; there is no mutation path after construction, so the
// owner-equals-everything invariant cannot drift.
type Catalog struct {
	all          []Permission
	companyRoles map[CompanyRole][]Permission
	projectRoles map[ProjectRole][]Permission
}

// NewCatalog builds the registry. The owner set is derived as the full
// catalog, never listed by hand.
func NewCatalog() *Catalog {
	all := []Permission{
		PermissionCompanyView,
		PermissionCompanyEdit,
		PermissionCompanyDelete,
		PermissionCompanyManageBilling,
		PermissionCompanyManageMembers,
		PermissionProjectView,
		PermissionProjectCreate,
		PermissionProjectEdit,
		PermissionProjectDelete,
		PermissionAgentView,
		PermissionAgentManage,
		PermissionTransferView,
		PermissionTransferCreate,
		PermissionTransferCancel,
		PermissionUserInvite,
		PermissionUserRemove,
	}

	member := []Permission{
		PermissionCompanyView,
		PermissionProjectView,
		PermissionAgentView,
		PermissionTransferView,
	}

	admin := append([]Permission{
		PermissionCompanyEdit,
		PermissionCompanyManageMembers,
		PermissionProjectCreate,
		PermissionProjectEdit,
		PermissionAgentManage,
		PermissionTransferCreate,
		PermissionTransferCancel,
		PermissionUserInvite,
		PermissionUserRemove,
	}, member...)

	projectViewer := []Permission{
		PermissionProjectView,
		PermissionAgentView,
		PermissionTransferView,
	}

	projectEditor := append([]Permission{
		PermissionProjectEdit,
		PermissionTransferCreate,
	}, projectViewer...)

	projectAdmin := append([]Permission{
		PermissionProjectDelete,
		PermissionAgentManage,
		PermissionTransferCancel,
	}, projectEditor...)

	return &Catalog{
		all: all,
		companyRoles: map[CompanyRole][]Permission{
			// owner derived from the full catalog by construction
			CompanyRoleOwner:  append([]Permission(nil), all...),
			CompanyRoleAdmin:  admin,
			CompanyRoleMember: member,
		},
		projectRoles: map[ProjectRole][]Permission{
			ProjectRoleAdmin:  projectAdmin,
			ProjectRoleEditor: projectEditor,
			ProjectRoleViewer: projectViewer,
		},
	}
}

// All returns a copy of the full permission catalog.
func (c *Catalog) All() []Permission {
	return append([]Permission(nil), c.all...)
}

// CompanyRolePermissions returns a copy of the permission list for a company role.
func (c *Catalog) CompanyRolePermissions(role CompanyRole) []Permission {
	return append([]Permission(nil), c.companyRoles[role]...)
}

// ProjectRolePermissions returns a copy of the permission list for a project role.
func (c *Catalog) ProjectRolePermissions(role ProjectRole) []Permission {
	return append([]Permission(nil), c.projectRoles[role]...)
}
