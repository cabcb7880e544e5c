package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/castellan-io/castellan/internal/observability"
)

// Maintenance bundles the database-backed maintenance task handlers.
type Maintenance struct {
	pool        *pgxpool.Pool
	logger      *slog.Logger
	metrics     *observability.Metrics
	rowsDeleted *prometheus.CounterVec
}

// NewMaintenance constructs maintenance handlers and registers their
// rows-deleted counter on the shared registry.
func NewMaintenance(pool *pgxpool.Pool, logger *slog.Logger, metrics *observability.Metrics) *Maintenance {
	rowsDeleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "castellan_maintenance_rows_deleted_total",
		Help: "Number of rows removed by maintenance jobs, by task type.",
	}, []string{"type"})
	metrics.Registerer().MustRegister(rowsDeleted)
	return &Maintenance{pool: pool, logger: logger, metrics: metrics, rowsDeleted: rowsDeleted}
}

// HandleSessionPrune deletes session records past their expiry.
func (m *Maintenance) HandleSessionPrune(ctx context.Context, t *asynq.Task) error {
	tag, err := m.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		m.metrics.RecordJob(TaskSessionPrune, "error")
		return err
	}
	m.metrics.RecordJob(TaskSessionPrune, "ok")
	m.rowsDeleted.WithLabelValues(TaskSessionPrune).Add(float64(tag.RowsAffected()))
	if m.logger != nil {
		m.logger.Info("pruned sessions", slog.Int64("deleted", tag.RowsAffected()))
	}
	return nil
}

// HandleAuditRetention deletes audit entries older than the retention window.
func (m *Maintenance) HandleAuditRetention(ctx context.Context, t *asynq.Task) error {
	var payload AuditRetentionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetainHours <= 0 {
		return asynq.SkipRetry
	}
	tag, err := m.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM audit_logs WHERE occurred_at < NOW() - INTERVAL '%d hours'`, payload.RetainHours))
	if err != nil {
		m.metrics.RecordJob(TaskAuditRetention, "error")
		return err
	}
	m.metrics.RecordJob(TaskAuditRetention, "ok")
	m.rowsDeleted.WithLabelValues(TaskAuditRetention).Add(float64(tag.RowsAffected()))
	if m.logger != nil {
		m.logger.Info("trimmed audit logs", slog.Int64("deleted", tag.RowsAffected()))
	}
	return nil
}
