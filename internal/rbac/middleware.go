package rbac

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/castellan-io/castellan/internal/platform/httpx"
	"github.com/castellan-io/castellan/internal/shared"
)

// Middleware is the authorization gate. Each protected route declares the
// permission it requires; the gate resolves the current user's role and
// permission set on every request and allows or denies before the handler
// runs.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Require ensures the current user holds the named permission. Requests
// without a resolved user are rejected as unauthenticated (401); requests by
// a user whose role lacks the permission are rejected with the missing
// permission name (403).
func (m Middleware) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.currentUserID(r)
			if !ok {
				respondUnauthenticated(w)
				return
			}
			if err := m.Service.Check(r.Context(), userID, permission); err != nil {
				if errors.Is(err, shared.ErrPermissionDenied) {
					respondDenied(w, permission)
					return
				}
				if m.Logger != nil {
					m.Logger.Error("rbac check", slog.String("permission", permission), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticated ensures a user is logged in without requiring a permission.
// Used for self-service routes every authenticated user may reach.
func (m Middleware) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.currentUserID(r); !ok {
			respondUnauthenticated(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CurrentUserID resolves the acting user from the request session.
func (m Middleware) CurrentUserID(r *http.Request) (int64, bool) {
	return m.currentUserID(r)
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}

func respondUnauthenticated(w http.ResponseWriter) {
	httpx.JSON(w, http.StatusUnauthorized, map[string]string{
		"message": "Unauthenticated.",
	})
}

func respondDenied(w http.ResponseWriter, permission string) {
	httpx.JSON(w, http.StatusForbidden, map[string]string{
		"message":             "You do not have permission to perform this action.",
		"required_permission": permission,
	})
}
