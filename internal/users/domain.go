package users

import "time"

// RoleRef is the role facet attached to a user record.
type RoleRef struct {
	ID   int64
	Name string
}

// User represents a user account. RoleID is nullable: a user without a role
// fails every permission check.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	RoleID       *int64
	Role         *RoleRef
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
