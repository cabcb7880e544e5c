package roles

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/castellan-io/castellan/internal/platform/httpx"
	"github.com/castellan-io/castellan/internal/rbac"
	"github.com/castellan-io/castellan/internal/shared"
)

// Handler manages role endpoints, including the three role-permission sync
// operations.
type Handler struct {
	logger    *slog.Logger
	service   *rbac.Service
	rbac      rbac.Middleware
	audit     *shared.AuditLogger
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *rbac.Service, rbacMW rbac.Middleware, audit *shared.AuditLogger) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		rbac:      rbacMW,
		audit:     audit,
		validator: validator.New(),
	}
}

// MountRoutes registers role routes under /roles.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermViewRoles))
		r.Get("/", h.listRoles)
		r.Get("/{id}", h.showRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermCreateRoles))
		r.Post("/", h.createRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermEditRoles))
		r.Put("/{id}", h.updateRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermDeleteRoles))
		r.Delete("/{id}", h.deleteRole)
	})
}

// MountSyncRoutes registers the sync engine routes under /role/permissions.
func (h *Handler) MountSyncRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermAssignPermissions))
		r.Post("/", h.assignPermissions)
		r.Delete("/", h.revokePermissions)
		r.Put("/", h.syncPermissions)
	})
}

type rolePayload struct {
	Name string `json:"name" validate:"required,max=255"`
}

type syncPayload struct {
	RoleID      int64   `json:"role_id" validate:"required,gt=0"`
	Permissions []int64 `json:"permissions" validate:"required,min=1,dive,gt=0"`
}

// RoleResponse is the JSON shape for a role with its relations.
type RoleResponse struct {
	ID          int64                     `json:"id"`
	Name        string                    `json:"name"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	Permissions []rbac.PermissionResponse `json:"permissions,omitempty"`
	Users       []RoleUserResponse        `json:"users,omitempty"`
}

// RoleUserResponse is the user facet embedded in role responses.
type RoleUserResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NewRoleResponse maps a domain role to its JSON shape.
func NewRoleResponse(role rbac.Role) RoleResponse {
	out := RoleResponse{
		ID:        role.ID,
		Name:      role.Name,
		CreatedAt: role.CreatedAt,
		UpdatedAt: role.UpdatedAt,
	}
	for _, p := range role.Permissions {
		out.Permissions = append(out.Permissions, rbac.NewPermissionResponse(p))
	}
	for _, u := range role.Users {
		out.Users = append(out.Users, RoleUserResponse{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	return out
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context(), rbac.ListOptions{IncludePermissions: true, IncludeUsers: true})
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]RoleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, NewRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) showRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewRoleResponse(role))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var payload rolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.CreateRole(r.Context(), payload.Name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "role.create", role.ID, map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusCreated, NewRoleResponse(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload rolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, payload.Name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "role.update", role.ID, map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusOK, NewRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "role.delete", id, nil)
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Role deleted successfully"})
}

func (h *Handler) assignPermissions(w http.ResponseWriter, r *http.Request) {
	h.mutatePermissions(w, r, "role.permissions.assign", h.service.AssignPermissions)
}

func (h *Handler) revokePermissions(w http.ResponseWriter, r *http.Request) {
	h.mutatePermissions(w, r, "role.permissions.revoke", h.service.RevokePermissions)
}

func (h *Handler) syncPermissions(w http.ResponseWriter, r *http.Request) {
	h.mutatePermissions(w, r, "role.permissions.sync", h.service.SyncPermissions)
}

func (h *Handler) mutatePermissions(w http.ResponseWriter, r *http.Request, action string, op func(ctx context.Context, roleID int64, permissionIDs []int64) (rbac.Role, error)) {
	var payload syncPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	role, err := op(r.Context(), payload.RoleID, payload.Permissions)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, action, role.ID, map[string]any{"permissions": payload.Permissions})
	httpx.JSON(w, http.StatusOK, NewRoleResponse(role))
}

func (h *Handler) recordAudit(r *http.Request, action string, entityID int64, meta map[string]any) {
	if h.audit == nil {
		return
	}
	actorID, _ := h.rbac.CurrentUserID(r)
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}); err != nil {
		h.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("id %q: %w", raw, shared.ErrNotFound)
	}
	return id, nil
}
