package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName indicates a uniqueness violation on a named entity.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrRoleInUse indicates a role delete was rejected because users still reference it.
	ErrRoleInUse = errors.New("role is in use")
	// ErrUnauthenticated indicates the request carries no resolved user identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPermissionDenied indicates the user's role lacks the required permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
