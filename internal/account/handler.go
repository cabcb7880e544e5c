package account

import (
	"errors"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/castellan-io/castellan/internal/platform/httpx"
	"github.com/castellan-io/castellan/internal/rbac"
	"github.com/castellan-io/castellan/internal/shared"
	"github.com/castellan-io/castellan/internal/users"
)

// Handler manages the authenticated user's own account. No permission gate:
// every logged-in user may read and update their profile.
type Handler struct {
	logger      *slog.Logger
	users       *users.Service
	rbacService *rbac.Service
	rbac        rbac.Middleware
	validator   *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, userService *users.Service, rbacService *rbac.Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{
		logger:      logger,
		users:       userService,
		rbacService: rbacService,
		rbac:        rbacMW,
		validator:   validator.New(),
	}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Authenticated)
		r.Get("/", h.showAccount)
		r.Put("/", h.updateAccount)
	})
}

type updatePayload struct {
	Name                 string `json:"name" validate:"omitempty,max=255"`
	Email                string `json:"email" validate:"omitempty,email,max=255"`
	CurrentPassword      string `json:"current_password" validate:"required_with=Password"`
	Password             string `json:"password" validate:"omitempty,min=8,eqfield=PasswordConfirmation"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// AccountResponse is the user's own profile with role and permissions.
type AccountResponse struct {
	users.UserResponse
	Permissions []string `json:"permissions"`
}

func (h *Handler) showAccount(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.rbac.CurrentUserID(r)
	h.respondAccount(w, r, userID, http.StatusOK)
}

func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.rbac.CurrentUserID(r)

	var payload updatePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	current, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	name := current.Name
	if payload.Name != "" {
		name = payload.Name
	}
	email := current.Email
	if payload.Email != "" {
		email = payload.Email
	}

	if _, err := h.users.UpdateUser(r.Context(), userID, users.UpdateInput{
		Name:   name,
		Email:  email,
		RoleID: current.RoleID,
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}

	if payload.Password != "" {
		if err := h.users.ChangePassword(r.Context(), userID, payload.CurrentPassword, payload.Password); err != nil {
			if errors.Is(err, shared.ErrInvalidCredentials) {
				httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "current password is incorrect")
				return
			}
			httpx.RespondError(w, err)
			return
		}
	}

	h.respondAccount(w, r, userID, http.StatusOK)
}

func (h *Handler) respondAccount(w http.ResponseWriter, r *http.Request, userID int64, status int) {
	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.rbacService.UserPermissions(r.Context(), userID)
	if err != nil {
		h.logger.Error("load account permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	httpx.JSON(w, status, AccountResponse{
		UserResponse: users.NewUserResponse(user),
		Permissions:  perms,
	})
}
