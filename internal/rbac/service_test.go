package rbac_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/castellan-io/castellan/internal/rbac"
	"github.com/castellan-io/castellan/internal/shared"
	_ "github.com/castellan-io/castellan/testing"
)

// memRepo mirrors the postgres repository semantics in memory: unique names,
// strict existence checks on permission IDs, restrict on role deletion while
// users reference it.
type memRepo struct {
	nextID int64
	perms  map[int64]rbac.Permission
	roles  map[int64]rbac.Role
	grants map[int64]map[int64]struct{}
	users  map[int64]int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		perms:  make(map[int64]rbac.Permission),
		roles:  make(map[int64]rbac.Role),
		grants: make(map[int64]map[int64]struct{}),
		users:  make(map[int64]int64),
	}
}

func (m *memRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) CreatePermission(ctx context.Context, name, guardName string) (rbac.Permission, error) {
	for _, p := range m.perms {
		if p.Name == name {
			return rbac.Permission{}, fmt.Errorf("permission %q: %w", name, shared.ErrDuplicateName)
		}
	}
	perm := rbac.Permission{ID: m.id(), Name: name, GuardName: guardName}
	m.perms[perm.ID] = perm
	return perm, nil
}

func (m *memRepo) GetPermission(ctx context.Context, id int64) (rbac.Permission, error) {
	perm, ok := m.perms[id]
	if !ok {
		return rbac.Permission{}, fmt.Errorf("permission %d: %w", id, shared.ErrNotFound)
	}
	return perm, nil
}

func (m *memRepo) UpdatePermission(ctx context.Context, id int64, name, guardName string) (rbac.Permission, error) {
	perm, ok := m.perms[id]
	if !ok {
		return rbac.Permission{}, fmt.Errorf("permission %d: %w", id, shared.ErrNotFound)
	}
	for _, p := range m.perms {
		if p.ID != id && p.Name == name {
			return rbac.Permission{}, fmt.Errorf("permission %q: %w", name, shared.ErrDuplicateName)
		}
	}
	perm.Name = name
	perm.GuardName = guardName
	m.perms[id] = perm
	return perm, nil
}

func (m *memRepo) DeletePermission(ctx context.Context, id int64) error {
	if _, ok := m.perms[id]; !ok {
		return fmt.Errorf("permission %d: %w", id, shared.ErrNotFound)
	}
	delete(m.perms, id)
	for _, set := range m.grants {
		delete(set, id)
	}
	return nil
}

func (m *memRepo) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	out := make([]rbac.Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) CreateRole(ctx context.Context, name string) (rbac.Role, error) {
	for _, r := range m.roles {
		if r.Name == name {
			return rbac.Role{}, fmt.Errorf("role %q: %w", name, shared.ErrDuplicateName)
		}
	}
	role := rbac.Role{ID: m.id(), Name: name}
	m.roles[role.ID] = role
	m.grants[role.ID] = make(map[int64]struct{})
	return role, nil
}

func (m *memRepo) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return rbac.Role{}, fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	return role, nil
}

func (m *memRepo) UpdateRole(ctx context.Context, id int64, name string) (rbac.Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return rbac.Role{}, fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	for _, r := range m.roles {
		if r.ID != id && r.Name == name {
			return rbac.Role{}, fmt.Errorf("role %q: %w", name, shared.ErrDuplicateName)
		}
	}
	role.Name = name
	m.roles[id] = role
	return role, nil
}

func (m *memRepo) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := m.roles[id]; !ok {
		return fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	for _, roleID := range m.users {
		if roleID == id {
			return fmt.Errorf("role %d: %w", id, shared.ErrRoleInUse)
		}
	}
	delete(m.roles, id)
	delete(m.grants, id)
	return nil
}

func (m *memRepo) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	out := make([]rbac.Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) RolePermissions(ctx context.Context, roleID int64) ([]rbac.Permission, error) {
	var out []rbac.Permission
	for id := range m.grants[roleID] {
		out = append(out, m.perms[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) RoleUsers(ctx context.Context, roleID int64) ([]rbac.RoleUser, error) {
	var out []rbac.RoleUser
	for userID, rid := range m.users {
		if rid == roleID {
			out = append(out, rbac.RoleUser{ID: userID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) checkExists(ids []int64) error {
	for _, id := range ids {
		if _, ok := m.perms[id]; !ok {
			return fmt.Errorf("permission: %w", shared.ErrNotFound)
		}
	}
	return nil
}

func (m *memRepo) AssignPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	set, ok := m.grants[roleID]
	if !ok {
		return fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
	}
	if err := m.checkExists(permissionIDs); err != nil {
		return err
	}
	for _, id := range permissionIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (m *memRepo) RevokePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	set, ok := m.grants[roleID]
	if !ok {
		return fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
	}
	if err := m.checkExists(permissionIDs); err != nil {
		return err
	}
	for _, id := range permissionIDs {
		delete(set, id)
	}
	return nil
}

func (m *memRepo) ReplacePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, ok := m.grants[roleID]; !ok {
		return fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
	}
	if err := m.checkExists(permissionIDs); err != nil {
		return err
	}
	set := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		set[id] = struct{}{}
	}
	m.grants[roleID] = set
	return nil
}

func (m *memRepo) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	roleID, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	var names []string
	for id := range m.grants[roleID] {
		names = append(names, m.perms[id].Name)
	}
	sort.Strings(names)
	return names, nil
}

var _ rbac.Repository = (*memRepo)(nil)

// fixture builds a repo with a role holding the given permission names and a
// user bound to that role. Returns the service, role ID, user ID and the
// permission IDs keyed by name.
func fixture(t *testing.T, permNames []string, granted []string) (*rbac.Service, *memRepo, int64, int64, map[string]int64) {
	t.Helper()
	repo := newMemRepo()
	svc := rbac.NewService(repo)
	ctx := context.Background()

	ids := make(map[string]int64, len(permNames))
	for _, name := range permNames {
		perm, err := svc.CreatePermission(ctx, name, "")
		if err != nil {
			t.Fatalf("create permission %s: %v", name, err)
		}
		ids[name] = perm.ID
	}

	role, err := svc.CreateRole(ctx, "Manager")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	var grantIDs []int64
	for _, name := range granted {
		grantIDs = append(grantIDs, ids[name])
	}
	if len(grantIDs) > 0 {
		if _, err := svc.AssignPermissions(ctx, role.ID, grantIDs); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}

	const userID = int64(100)
	repo.users[userID] = role.ID
	return svc, repo, role.ID, userID, ids
}

func permNames(perms []rbac.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.Name)
	}
	sort.Strings(out)
	return out
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCheckGrantedAndMissing(t *testing.T) {
	svc, _, _, userID, _ := fixture(t,
		[]string{"view_users", "edit_users", "delete_users"},
		[]string{"view_users", "edit_users"})
	ctx := context.Background()

	if err := svc.Check(ctx, userID, "edit_users"); err != nil {
		t.Fatalf("expected edit_users allowed, got %v", err)
	}
	err := svc.Check(ctx, userID, "delete_users")
	if !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestCheckIsCaseSensitive(t *testing.T) {
	svc, _, _, userID, _ := fixture(t, []string{"view_users"}, []string{"view_users"})
	err := svc.Check(context.Background(), userID, "View_Users")
	if !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("expected denial for mismatched case, got %v", err)
	}
}

func TestCheckUserWithoutRole(t *testing.T) {
	svc, _, _, _, _ := fixture(t, []string{"view_users"}, []string{"view_users"})
	err := svc.Check(context.Background(), 999, "view_users")
	if !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("expected denial for roleless user, got %v", err)
	}
}

func TestAssignIsAdditiveAndIdempotent(t *testing.T) {
	svc, _, roleID, _, ids := fixture(t,
		[]string{"view_users", "edit_users"},
		[]string{"view_users"})
	ctx := context.Background()

	role, err := svc.AssignPermissions(ctx, roleID, []int64{ids["edit_users"]})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	want := []string{"edit_users", "view_users"}
	if got := permNames(role.Permissions); !equalNames(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// Re-assigning the same ID leaves the set unchanged.
	role, err = svc.AssignPermissions(ctx, roleID, []int64{ids["edit_users"], ids["edit_users"]})
	if err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	if got := permNames(role.Permissions); !equalNames(got, want) {
		t.Fatalf("expected idempotent assign, got %v", got)
	}
}

func TestAssignUnknownPermissionFails(t *testing.T) {
	svc, repo, roleID, _, ids := fixture(t, []string{"view_users"}, []string{"view_users"})
	ctx := context.Background()

	_, err := svc.AssignPermissions(ctx, roleID, []int64{ids["view_users"], 9999})
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected not found for unknown permission, got %v", err)
	}
	// Set is untouched after the failed call.
	if len(repo.grants[roleID]) != 1 {
		t.Fatalf("expected grant set unchanged, got %d entries", len(repo.grants[roleID]))
	}
}

func TestAssignUnknownRoleFails(t *testing.T) {
	svc, _, _, _, ids := fixture(t, []string{"view_users"}, nil)
	_, err := svc.AssignPermissions(context.Background(), 777, []int64{ids["view_users"]})
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected not found for unknown role, got %v", err)
	}
}

func TestRevokeIgnoresUnassigned(t *testing.T) {
	svc, _, roleID, _, ids := fixture(t,
		[]string{"view_users", "edit_users"},
		[]string{"view_users"})
	ctx := context.Background()

	// edit_users exists but was never assigned; revoking it is a no-op.
	role, err := svc.RevokePermissions(ctx, roleID, []int64{ids["edit_users"]})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if got := permNames(role.Permissions); !equalNames(got, []string{"view_users"}) {
		t.Fatalf("expected view_users kept, got %v", got)
	}
}

func TestRevokeUnknownPermissionFails(t *testing.T) {
	svc, _, roleID, _, _ := fixture(t, []string{"view_users"}, []string{"view_users"})
	_, err := svc.RevokePermissions(context.Background(), roleID, []int64{4242})
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSyncReplacesEntireSet(t *testing.T) {
	svc, _, roleID, _, ids := fixture(t,
		[]string{"view_users", "edit_users", "delete_users"},
		[]string{"view_users", "edit_users"})
	ctx := context.Background()

	role, err := svc.SyncPermissions(ctx, roleID, []int64{ids["delete_users"]})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := permNames(role.Permissions); !equalNames(got, []string{"delete_users"}) {
		t.Fatalf("expected exactly delete_users, got %v", got)
	}
}

func TestCheckSeesSyncImmediately(t *testing.T) {
	svc, _, roleID, userID, ids := fixture(t,
		[]string{"view_users", "edit_users"},
		[]string{"view_users", "edit_users"})
	ctx := context.Background()

	if err := svc.Check(ctx, userID, "edit_users"); err != nil {
		t.Fatalf("expected edit_users allowed before sync, got %v", err)
	}
	if _, err := svc.SyncPermissions(ctx, roleID, []int64{ids["view_users"]}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := svc.Check(ctx, userID, "edit_users"); !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("expected edit_users denied after sync, got %v", err)
	}
	if err := svc.Check(ctx, userID, "view_users"); err != nil {
		t.Fatalf("expected view_users still allowed, got %v", err)
	}
}

func TestRevokeThenAssignRestores(t *testing.T) {
	svc, _, roleID, userID, ids := fixture(t,
		[]string{"view_users"},
		[]string{"view_users"})
	ctx := context.Background()

	if _, err := svc.RevokePermissions(ctx, roleID, []int64{ids["view_users"]}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := svc.Check(ctx, userID, "view_users"); !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("expected denial after revoke, got %v", err)
	}
	if _, err := svc.AssignPermissions(ctx, roleID, []int64{ids["view_users"]}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := svc.Check(ctx, userID, "view_users"); err != nil {
		t.Fatalf("expected access restored, got %v", err)
	}
}

func TestCreateDuplicatePermission(t *testing.T) {
	svc, _, _, _, _ := fixture(t, []string{"view_users"}, nil)
	ctx := context.Background()

	_, err := svc.CreatePermission(ctx, "view_users", "")
	if !errors.Is(err, shared.ErrDuplicateName) {
		t.Fatalf("expected duplicate name, got %v", err)
	}
	perms, err := svc.ListPermissions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(perms) != 1 {
		t.Fatalf("expected registry unchanged, got %d permissions", len(perms))
	}
}

func TestCreatePermissionDefaultsGuard(t *testing.T) {
	repo := newMemRepo()
	svc := rbac.NewService(repo)
	perm, err := svc.CreatePermission(context.Background(), "view_dashboard", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if perm.GuardName != shared.DefaultGuard {
		t.Fatalf("expected guard %q, got %q", shared.DefaultGuard, perm.GuardName)
	}
}

func TestDeleteRoleInUse(t *testing.T) {
	svc, _, roleID, _, _ := fixture(t, []string{"view_users"}, []string{"view_users"})
	err := svc.DeleteRole(context.Background(), roleID)
	if !errors.Is(err, shared.ErrRoleInUse) {
		t.Fatalf("expected role in use, got %v", err)
	}
}

func TestDeletePermissionCascades(t *testing.T) {
	svc, _, roleID, userID, ids := fixture(t,
		[]string{"view_users", "edit_users"},
		[]string{"view_users", "edit_users"})
	ctx := context.Background()

	if err := svc.DeletePermission(ctx, ids["edit_users"]); err != nil {
		t.Fatalf("delete permission: %v", err)
	}
	role, err := svc.GetRole(ctx, roleID)
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if got := permNames(role.Permissions); !equalNames(got, []string{"view_users"}) {
		t.Fatalf("expected permission removed from role set, got %v", got)
	}
	if err := svc.Check(ctx, userID, "edit_users"); !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("expected denial after permission delete, got %v", err)
	}
}
