package users

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/castellan-io/castellan/internal/shared"
)

// CreateInput carries the fields for creating a user.
type CreateInput struct {
	Name     string
	Email    string
	Password string
	RoleID   *int64
}

// UpdateInput carries the fields for updating a user. Password is optional.
type UpdateInput struct {
	Name     string
	Email    string
	Password string
	RoleID   *int64
}

// Service handles user account business logic.
type Service struct {
	repo Repository
}

// NewService builds Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser fetches a user by ID.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUser hashes the password and inserts the account.
func (s *Service) CreateUser(ctx context.Context, in CreateInput) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return s.repo.CreateUser(ctx, strings.TrimSpace(in.Name), normalizeEmail(in.Email), string(hash), in.RoleID)
}

// UpdateUser updates profile fields and, when a password is supplied,
// replaces the stored hash.
func (s *Service) UpdateUser(ctx context.Context, id int64, in UpdateInput) (User, error) {
	user, err := s.repo.UpdateUser(ctx, id, strings.TrimSpace(in.Name), normalizeEmail(in.Email), in.RoleID)
	if err != nil {
		return User{}, err
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, err
		}
		if err := s.repo.UpdatePassword(ctx, id, string(hash)); err != nil {
			return User{}, err
		}
	}
	return user, nil
}

// ChangePassword verifies the current password before storing a new hash.
func (s *Service) ChangePassword(ctx context.Context, id int64, currentPassword, newPassword string) error {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return shared.ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, id, string(hash))
}

// DeleteUser removes a user account.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	return s.repo.DeleteUser(ctx, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
