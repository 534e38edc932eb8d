package handlers

import (
	"encoding/json"
	"time"

	"outreach-dispatch-go/internal/model"
)

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse is the health check body
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics"`
}

// DispatchRequest triggers one outbound send
type DispatchRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	JobID         string `json:"job_id" binding:"required"`
	ApplicationID string `json:"application_id"`
	Recipient     string `json:"recipient" binding:"required"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	Purpose       string `json:"purpose"`
}

// DispatchResponse reports the definite status a dispatch ended in
type DispatchResponse struct {
	Outcome     string                `json:"outcome"`
	Reason      string                `json:"reason,omitempty"`
	RetryAfter  string                `json:"retry_after,omitempty"`
	Record      *model.DispatchRecord `json:"record,omitempty"`
	Application *model.Application    `json:"application,omitempty"`
}

// UpsertJobRequest registers a discovered job posting and its company
type UpsertJobRequest struct {
	CompanyName string `json:"company_name" binding:"required"`
	HREmail     string `json:"hr_email"`
	Website     string `json:"website"`
	JobURL      string `json:"job_url" binding:"required"`
	JobTitle    string `json:"job_title"`
}

// InboundRequest delivers one classified inbound message
type InboundRequest struct {
	UserID     string    `json:"user_id" binding:"required"`
	MessageID  string    `json:"message_id" binding:"required"`
	JobID      string    `json:"job_id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`

	Classification struct {
		Label   string          `json:"label"`
		Payload json.RawMessage `json:"payload"`
	} `json:"classification"`
}

// InboundResponse reports the routed action
type InboundResponse struct {
	Action    string            `json:"action"`
	Interview *model.Interview  `json:"interview,omitempty"`
	Dispatch  *DispatchResponse `json:"dispatch,omitempty"`
}

// BounceRequest reports an asynchronous provider bounce
type BounceRequest struct {
	UserID            string `json:"user_id" binding:"required"`
	ProviderMessageID string `json:"provider_message_id" binding:"required"`
	Reason            string `json:"reason"`
}

// RecordsResponse is a page of dispatch records
type RecordsResponse struct {
	Records []model.DispatchRecord `json:"records"`
	Total   int64                  `json:"total"`
	Offset  int                    `json:"offset"`
	Limit   int                    `json:"limit"`
}
