package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan-io/castellan/internal/platform/db"
	"github.com/castellan-io/castellan/internal/shared"
)

// Repository defines persistence operations for roles and permissions.
type Repository interface {
	CreatePermission(ctx context.Context, name, guardName string) (Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	UpdatePermission(ctx context.Context, id int64, name, guardName string) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context) ([]Permission, error)

	CreateRole(ctx context.Context, name string) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	UpdateRole(ctx context.Context, id int64, name string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ListRoles(ctx context.Context) ([]Role, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	RoleUsers(ctx context.Context, roleID int64) ([]RoleUser, error)

	AssignPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	RevokePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	ReplacePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	UserPermissions(ctx context.Context, userID int64) ([]string, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// CreatePermission inserts a permission into the registry.
func (r *PGRepository) CreatePermission(ctx context.Context, name, guardName string) (Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, guard_name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, name, guard_name, created_at, updated_at`, name, guardName).
		Scan(&perm.ID, &perm.Name, &perm.GuardName, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Permission{}, fmt.Errorf("permission %q: %w", name, shared.ErrDuplicateName)
		}
		return Permission{}, err
	}
	return perm, nil
}

// GetPermission fetches a permission by ID.
func (r *PGRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, guard_name, created_at, updated_at FROM permissions WHERE id = $1`, id).
		Scan(&perm.ID, &perm.Name, &perm.GuardName, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, fmt.Errorf("permission %d: %w", id, shared.ErrNotFound)
		}
		return Permission{}, err
	}
	return perm, nil
}

// UpdatePermission renames a permission or changes its guard tag.
func (r *PGRepository) UpdatePermission(ctx context.Context, id int64, name, guardName string) (Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx, `
		UPDATE permissions SET name = $2, guard_name = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, guard_name, created_at, updated_at`, id, name, guardName).
		Scan(&perm.ID, &perm.Name, &perm.GuardName, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, fmt.Errorf("permission %d: %w", id, shared.ErrNotFound)
		}
		if isUniqueViolation(err) {
			return Permission{}, fmt.Errorf("permission %q: %w", name, shared.ErrDuplicateName)
		}
		return Permission{}, err
	}
	return perm, nil
}

// DeletePermission removes a permission. The role_permissions foreign key
// cascades, so the permission leaves every role's set in the same statement.
func (r *PGRepository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("permission %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// ListPermissions returns every permission ordered by ID.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, guard_name, created_at, updated_at FROM permissions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// CreateRole inserts a role with an empty permission set.
func (r *PGRepository) CreateRole(ctx context.Context, name string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		RETURNING id, name, created_at, updated_at`, name).
		Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, fmt.Errorf("role %q: %w", name, shared.ErrDuplicateName)
		}
		return Role{}, err
	}
	return role, nil
}

// GetRole fetches a role by ID without relations.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
		}
		return Role{}, err
	}
	return role, nil
}

// UpdateRole renames a role.
func (r *PGRepository) UpdateRole(ctx context.Context, id int64, name string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, created_at, updated_at`, id, name).
		Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
		}
		if isUniqueViolation(err) {
			return Role{}, fmt.Errorf("role %q: %w", name, shared.ErrDuplicateName)
		}
		return Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role. Users keep a restrict foreign key on role_id, so
// deleting a role that is still referenced fails and maps to ErrRoleInUse.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("role %d: %w", id, shared.ErrRoleInUse)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// ListRoles returns every role ordered by ID.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, created_at, updated_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// RolePermissions returns the role's current permission set ordered by ID.
func (r *PGRepository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, p.guard_name, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// RoleUsers returns the users currently bound to the role.
func (r *PGRepository) RoleUsers(ctx context.Context, roleID int64) ([]RoleUser, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email FROM users WHERE role_id = $1 ORDER BY id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []RoleUser
	for rows.Next() {
		var u RoleUser
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// AssignPermissions unions the given permission IDs into the role's set.
// Already-assigned permissions are left untouched.
func (r *PGRepository) AssignPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockRole(ctx, tx, roleID); err != nil {
			return err
		}
		ids := dedupeIDs(permissionIDs)
		if err := checkPermissionsExist(ctx, tx, ids); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id, created_at)
			SELECT $1, unnest($2::bigint[]), NOW()
			ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, ids)
		return err
	})
}

// RevokePermissions removes the given permission IDs from the role's set.
// Revoking a permission that exists but is not assigned is a no-op.
func (r *PGRepository) RevokePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockRole(ctx, tx, roleID); err != nil {
			return err
		}
		ids := dedupeIDs(permissionIDs)
		if err := checkPermissionsExist(ctx, tx, ids); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = ANY($2::bigint[])`, roleID, ids)
		return err
	})
}

// ReplacePermissions sets the role's permission set to exactly the given IDs.
func (r *PGRepository) ReplacePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockRole(ctx, tx, roleID); err != nil {
			return err
		}
		ids := dedupeIDs(permissionIDs)
		if err := checkPermissionsExist(ctx, tx, ids); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id, created_at)
			SELECT $1, unnest($2::bigint[]), NOW()`, roleID, ids)
		return err
	})
}

// UserPermissions returns the permission names granted through the user's
// role. A user without a role resolves to the empty set.
func (r *PGRepository) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.name
		FROM users u
		JOIN role_permissions rp ON rp.role_id = u.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE u.id = $1
		ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// lockRole takes a row lock on the role so concurrent permission mutations on
// the same role serialize and readers only ever observe a committed set.
func lockRole(ctx context.Context, tx pgx.Tx, roleID int64) error {
	var id int64
	if err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
		}
		return err
	}
	return nil
}

// checkPermissionsExist fails with ErrNotFound when any of the IDs is unknown.
func checkPermissionsExist(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	var count int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE id = ANY($1::bigint[])`, ids).Scan(&count); err != nil {
		return err
	}
	if count != int64(len(ids)) {
		return fmt.Errorf("permission: %w", shared.ErrNotFound)
	}
	return nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.GuardName, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

var _ Repository = (*PGRepository)(nil)
