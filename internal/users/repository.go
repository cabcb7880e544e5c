package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan-io/castellan/internal/shared"
)

// Repository defines persistence operations for user accounts.
type Repository interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, name, email, passwordHash string, roleID *int64) (User, error)
	UpdateUser(ctx context.Context, id int64, name, email string, roleID *int64) (User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	DeleteUser(ctx context.Context, id int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `u.id, u.name, u.email, u.password_hash, u.role_id, u.is_active, u.created_at, u.updated_at, r.id, r.name`

// ListUsers returns all users with their role reference attached.
func (r *PGRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN roles r ON r.id = u.role_id
		ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser fetches a user by ID.
func (r *PGRepository) GetUser(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN roles r ON r.id = u.role_id
		WHERE u.id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
		}
		return User{}, err
	}
	return user, nil
}

// CreateUser inserts a user account.
func (r *PGRepository) CreateUser(ctx context.Context, name, email, passwordHash string, roleID *int64) (User, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		RETURNING id`, name, email, passwordHash, roleID).Scan(&id)
	if err != nil {
		return User{}, mapUserWriteError(err, email)
	}
	return r.GetUser(ctx, id)
}

// UpdateUser updates name, email and role binding.
func (r *PGRepository) UpdateUser(ctx context.Context, id int64, name, email string, roleID *int64) (User, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET name = $2, email = $3, role_id = $4, updated_at = NOW()
		WHERE id = $1`, id, name, email, roleID)
	if err != nil {
		return User{}, mapUserWriteError(err, email)
	}
	if tag.RowsAffected() == 0 {
		return User{}, fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return r.GetUser(ctx, id)
}

// UpdatePassword replaces the stored password hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// DeleteUser removes a user account.
func (r *PGRepository) DeleteUser(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	var roleID, refID *int64
	var refName *string
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &roleID, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &refID, &refName); err != nil {
		return User{}, err
	}
	user.RoleID = roleID
	if refID != nil && refName != nil {
		user.Role = &RoleRef{ID: *refID, Name: *refName}
	}
	return user, nil
}

// mapUserWriteError translates constraint violations: duplicate email maps to
// ErrDuplicateName, a dangling role_id maps to role not found.
func mapUserWriteError(err error, email string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("user %q: %w", email, shared.ErrDuplicateName)
		case "23503":
			return fmt.Errorf("role: %w", shared.ErrNotFound)
		}
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
