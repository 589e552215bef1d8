package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/connect-commerce/connect-admin/internal/auth"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLoginRecorded persists a successful admin login.
	TaskLoginRecorded = "auth:login_recorded"
	// TaskLoginAuditPrune deletes login audit rows past retention.
	TaskLoginAuditPrune = "auth:login_audit_prune"
)

// LoginAuditPrunePayload configures a retention run.
type LoginAuditPrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// Cutoff returns the oldest timestamp kept relative to now.
func (p LoginAuditPrunePayload) Cutoff(now time.Time) time.Time {
	days := p.RetentionDays
	if days <= 0 {
		days = 90
	}
	return now.AddDate(0, 0, -days)
}

// NewLoginRecordedTask constructs an Asynq task for event.
func NewLoginRecordedTask(event auth.LoginEvent) (*asynq.Task, error) {
	if event.AdminID <= 0 {
		return nil, fmt.Errorf("jobs: login event without admin id")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLoginRecorded, data, asynq.MaxRetry(5), asynq.Queue(QueueDefault)), nil
}

// NewLoginAuditPruneTask constructs the retention task.
func NewLoginAuditPruneTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(LoginAuditPrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLoginAuditPrune, data), nil
}
