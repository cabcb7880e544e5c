package rbac

import "time"

// Role represents a named grant unit. A user holds exactly one role; the role
// owns a set of permissions.
type Role struct {
	ID          int64
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Permissions []Permission
	Users       []RoleUser
}

// Permission represents an atomic capability checked by exact name match.
type Permission struct {
	ID        int64
	Name      string
	GuardName string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleUser is the user facet attached to role listings.
type RoleUser struct {
	ID    int64
	Name  string
	Email string
}

// ListOptions controls which relations role listings load.
type ListOptions struct {
	IncludePermissions bool
	IncludeUsers       bool
}
