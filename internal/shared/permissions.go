package shared

// Permission names checked at protected call sites. The string value is the
// canonical wire identifier; routes declare exactly one of these constants.
const (
	PermViewUsers   = "view_users"
	PermCreateUsers = "create_users"
	PermEditUsers   = "edit_users"
	PermDeleteUsers = "delete_users"
	PermManageUsers = "manage_users"

	PermViewRoles         = "view_roles"
	PermCreateRoles       = "create_roles"
	PermEditRoles         = "edit_roles"
	PermDeleteRoles       = "delete_roles"
	PermAssignPermissions = "assign_permissions"
	PermManageRoles       = "manage_roles"

	PermViewPermissions   = "view_permissions"
	PermCreatePermissions = "create_permissions"
	PermEditPermissions   = "edit_permissions"
	PermDeletePermissions = "delete_permissions"
	PermManagePermissions = "manage_permissions"

	PermViewDashboard = "view_dashboard"
	PermManageAccount = "manage_account"
)

// DefaultGuard is the guard tag applied to permissions created without one.
const DefaultGuard = "web"

// PermissionCatalog lists every permission the platform knows about, in the
// order the seeder creates them.
func PermissionCatalog() []string {
	return []string{
		PermViewUsers,
		PermCreateUsers,
		PermEditUsers,
		PermDeleteUsers,
		PermManageUsers,
		PermViewRoles,
		PermCreateRoles,
		PermEditRoles,
		PermDeleteRoles,
		PermAssignPermissions,
		PermManageRoles,
		PermViewPermissions,
		PermCreatePermissions,
		PermEditPermissions,
		PermDeletePermissions,
		PermManagePermissions,
		PermViewDashboard,
		PermManageAccount,
	}
}
