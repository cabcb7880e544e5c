package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionPrune is the task type for deleting expired session records.
	TaskSessionPrune = "session:prune"
	// TaskAuditRetention is the task type for trimming old audit log entries.
	TaskAuditRetention = "audit:retention"
)

// AuditRetentionPayload configures how far back audit entries are kept.
type AuditRetentionPayload struct {
	RetainHours int `json:"retain_hours"`
}

// NewSessionPruneTask constructs an Asynq task for session pruning.
func NewSessionPruneTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPrune, nil)
}

// NewAuditRetentionTask constructs an Asynq task for audit retention.
func NewAuditRetentionTask(payload AuditRetentionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, data), nil
}
