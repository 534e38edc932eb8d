package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreach-dispatch-go/internal/model"
)

// Auditor records every module boundary crossing: a structured log line
// for operators and a durable workflow_logs row for the audit surface.
type Auditor struct {
	db *gorm.DB
}

// Entry describes one module invocation outcome.
type Entry struct {
	UserID      string
	Module      string
	ExecutionID string
	Status      string
	Summary     map[string]any
	Duration    time.Duration
	Err         error
}

// NewAuditor creates an auditor backed by the given database.
func NewAuditor(db *gorm.DB) *Auditor {
	return &Auditor{db: db}
}

// Record persists the entry. Audit failures are logged and swallowed;
// the audit trail never blocks the pipeline.
func (a *Auditor) Record(ctx context.Context, e Entry) {
	summary := ""
	if e.Summary != nil {
		if b, err := json.Marshal(e.Summary); err == nil {
			summary = string(b)
		}
	}

	errMsg := ""
	if e.Err != nil {
		errMsg = e.Err.Error()
	}

	fields := logrus.Fields{
		"module":       e.Module,
		"user_id":      e.UserID,
		"execution_id": e.ExecutionID,
		"status":       e.Status,
		"duration_ms":  e.Duration.Milliseconds(),
	}
	if summary != "" {
		fields["summary"] = summary
	}
	if e.Err != nil {
		logrus.WithFields(fields).WithError(e.Err).Warn("module finished with error")
	} else {
		logrus.WithFields(fields).Info("module finished")
	}

	row := model.WorkflowLog{
		UserID:        e.UserID,
		ModuleName:    e.Module,
		ExecutionID:   e.ExecutionID,
		Status:        e.Status,
		OutputSummary: summary,
		DurationMs:    e.Duration.Milliseconds(),
		ErrorMsg:      errMsg,
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		logrus.Errorf("Failed to write workflow log: %v", err)
	}
}
