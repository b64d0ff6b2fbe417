package shared

import "net/http"

// Built-in role codes seeded by the initial migration.
const (
	RoleSuperAdmin    = "super_admin"
	RoleRegionalAdmin = "admin_regional"
	RoleBrigadeLead   = "jefe_brigada"
	RoleFieldWorker   = "brigadista"
	RoleBotanist      = "botanico"
)

// Core platform privileges.
const (
	PermUsersView    = "users.view"
	PermUsersEdit    = "users.edit"
	PermUsersApprove = "users.approve"
	PermUsersDelete  = "users.delete"

	PermRolesManage      = "roles.manage"
	PermPrivilegesManage = "privileges.manage"

	PermAssignmentsView   = "assignments.view"
	PermAssignmentsManage = "assignments.manage"
)

// Guards exposes request-time authorization predicates to HTTP handlers.
type Guards interface {
	RequireRole(code string) func(http.Handler) http.Handler
	RequireAnyPrivilege(codes ...string) func(http.Handler) http.Handler
	// RequireSelfOrPrivilege passes callers whose user id equals the named URL
	// parameter and otherwise requires one of the privileges.
	RequireSelfOrPrivilege(param string, codes ...string) func(http.Handler) http.Handler
}
