package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/castellan-io/castellan/internal/platform/httpx"
	"github.com/castellan-io/castellan/internal/shared"
)

// Service orchestrates the permission registry, the role store and the three
// role-permission sync operations.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreatePermission registers a new permission. An empty guard tag defaults to
// shared.DefaultGuard.
func (s *Service) CreatePermission(ctx context.Context, name, guardName string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, fmt.Errorf("permission name required: %w", httpx.ErrValidation)
	}
	guardName = strings.TrimSpace(guardName)
	if guardName == "" {
		guardName = shared.DefaultGuard
	}
	return s.repo.CreatePermission(ctx, name, guardName)
}

// GetPermission fetches a permission by ID.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// UpdatePermission renames a permission. Guard tag is preserved when blank.
func (s *Service) UpdatePermission(ctx context.Context, id int64, name, guardName string) (Permission, error) {
	name = strings.TrimSpace(name)
	guardName = strings.TrimSpace(guardName)
	if guardName == "" {
		current, err := s.repo.GetPermission(ctx, id)
		if err != nil {
			return Permission{}, err
		}
		guardName = current.GuardName
	}
	return s.repo.UpdatePermission(ctx, id, name, guardName)
}

// DeletePermission removes a permission from the registry and from every
// role's permission set.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	return s.repo.DeletePermission(ctx, id)
}

// ListPermissions returns all permissions ordered by ID.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// CreateRole inserts a new role with an empty permission set.
func (s *Service) CreateRole(ctx context.Context, name string) (Role, error) {
	name = strings.TrimSpace(name)
	return s.repo.CreateRole(ctx, name)
}

// GetRole fetches a role with its permissions and bound users attached.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	return s.loadRelations(ctx, role, ListOptions{IncludePermissions: true, IncludeUsers: true})
}

// UpdateRole renames a role and returns it with relations attached.
func (s *Service) UpdateRole(ctx context.Context, id int64, name string) (Role, error) {
	role, err := s.repo.UpdateRole(ctx, id, strings.TrimSpace(name))
	if err != nil {
		return Role{}, err
	}
	return s.loadRelations(ctx, role, ListOptions{IncludePermissions: true, IncludeUsers: true})
}

// DeleteRole removes a role. It fails with shared.ErrRoleInUse while any user
// still references the role.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.repo.DeleteRole(ctx, id)
}

// ListRoles returns all roles, optionally with permissions and users loaded.
func (s *Service) ListRoles(ctx context.Context, opts ListOptions) ([]Role, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i], err = s.loadRelations(ctx, roles[i], opts)
		if err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// AssignPermissions unions the permission IDs into the role's set and returns
// the role with the refreshed set. Assigning an already-held permission is a
// no-op, so the operation is idempotent.
func (s *Service) AssignPermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Role, error) {
	if err := s.repo.AssignPermissions(ctx, roleID, permissionIDs); err != nil {
		return Role{}, err
	}
	return s.roleWithPermissions(ctx, roleID)
}

// RevokePermissions removes the permission IDs from the role's set and returns
// the role with the refreshed set. Unknown permission IDs fail with NotFound;
// known-but-unassigned IDs are ignored.
func (s *Service) RevokePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Role, error) {
	if err := s.repo.RevokePermissions(ctx, roleID, permissionIDs); err != nil {
		return Role{}, err
	}
	return s.roleWithPermissions(ctx, roleID)
}

// SyncPermissions replaces the role's permission set with exactly the given
// IDs and returns the role with the refreshed set.
func (s *Service) SyncPermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Role, error) {
	if err := s.repo.ReplacePermissions(ctx, roleID, permissionIDs); err != nil {
		return Role{}, err
	}
	return s.roleWithPermissions(ctx, roleID)
}

// Check decides whether the user may perform an action guarded by the named
// permission. The user's role and permission set are re-read on every call so
// sync mutations are visible on the next request. Name comparison is exact
// and case-sensitive.
func (s *Service) Check(ctx context.Context, userID int64, required string) error {
	granted, err := s.repo.UserPermissions(ctx, userID)
	if err != nil {
		return err
	}
	for _, name := range granted {
		if name == required {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", required, shared.ErrPermissionDenied)
}

// UserPermissions returns the permission names granted to a user through
// their role.
func (s *Service) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	return s.repo.UserPermissions(ctx, userID)
}

func (s *Service) roleWithPermissions(ctx context.Context, roleID int64) (Role, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	return s.loadRelations(ctx, role, ListOptions{IncludePermissions: true})
}

func (s *Service) loadRelations(ctx context.Context, role Role, opts ListOptions) (Role, error) {
	if opts.IncludePermissions {
		perms, err := s.repo.RolePermissions(ctx, role.ID)
		if err != nil {
			return Role{}, err
		}
		role.Permissions = perms
	}
	if opts.IncludeUsers {
		users, err := s.repo.RoleUsers(ctx, role.ID)
		if err != nil {
			return Role{}, err
		}
		role.Users = users
	}
	return role, nil
}
