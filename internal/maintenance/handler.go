package maintenance

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/castellan-io/castellan/internal/platform/httpx"
	"github.com/castellan-io/castellan/internal/rbac"
	"github.com/castellan-io/castellan/internal/shared"
	"github.com/castellan-io/castellan/jobs"
)

// Enqueuer submits maintenance tasks to the job queue.
type Enqueuer interface {
	EnqueueSessionPrune(ctx context.Context) (*asynq.TaskInfo, error)
	EnqueueAuditRetention(ctx context.Context, payload jobs.AuditRetentionPayload) (*asynq.TaskInfo, error)
}

// Handler exposes on-demand triggers for the scheduled maintenance sweeps so
// an administrator does not have to wait for the next cron run.
type Handler struct {
	logger         *slog.Logger
	queue          Enqueuer
	rbac           rbac.Middleware
	auditRetention time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, queue Enqueuer, rbacMiddleware rbac.Middleware, auditRetention time.Duration) *Handler {
	return &Handler{
		logger:         logger,
		queue:          queue,
		rbac:           rbacMiddleware,
		auditRetention: auditRetention,
	}
}

// MountRoutes registers maintenance routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermManageUsers))
		r.Post("/sessions/prune", h.pruneSessions)
		r.Post("/audit-logs/trim", h.trimAuditLogs)
	})
}

func (h *Handler) pruneSessions(w http.ResponseWriter, r *http.Request) {
	info, err := h.queue.EnqueueSessionPrune(r.Context())
	if err != nil {
		h.logger.Error("enqueue session prune", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID})
}

func (h *Handler) trimAuditLogs(w http.ResponseWriter, r *http.Request) {
	info, err := h.queue.EnqueueAuditRetention(r.Context(), jobs.AuditRetentionPayload{
		RetainHours: int(h.auditRetention.Hours()),
	})
	if err != nil {
		h.logger.Error("enqueue audit retention", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID})
}
