package model

import (
	"time"

	"gorm.io/gorm"
)

// EmailMode governs whether drafted emails are sent automatically or
// queued for human approval.
type EmailMode string

const (
	EmailModeAuto  EmailMode = "AUTO"
	EmailModeDraft EmailMode = "DRAFT"
)

// DispatchStatus is the terminal state of a send attempt.
type DispatchStatus string

const (
	DispatchPending DispatchStatus = "PENDING"
	DispatchSent    DispatchStatus = "SENT"
	DispatchFailed  DispatchStatus = "FAILED"
	DispatchSkipped DispatchStatus = "SKIPPED"
	DispatchBounced DispatchStatus = "BOUNCED"
)

// MaxDispatchRetries caps retry_count; a record at the cap is terminal
// and can only be retried with new content (a new body hash).
const MaxDispatchRetries = 3

// ApplicationStatus tracks a tailored (resume, email draft) artifact.
type ApplicationStatus string

const (
	ApplicationReady         ApplicationStatus = "READY"
	ApplicationPendingReview ApplicationStatus = "PENDING_REVIEW"
	ApplicationSent          ApplicationStatus = "SENT"
)

// JobStatus advances as the pipeline acts on a job posting.
type JobStatus string

const (
	JobDiscovered JobStatus = "DISCOVERED"
	JobApplied    JobStatus = "APPLIED"
	JobReplied    JobStatus = "REPLIED"
	JobInterview  JobStatus = "INTERVIEW"
	JobRejected   JobStatus = "REJECTED"
)

// InterviewStatus tracks a calendar booking for a proposed interview.
type InterviewStatus string

const (
	InterviewScheduled InterviewStatus = "SCHEDULED"
	InterviewConfirmed InterviewStatus = "CONFIRMED"
	InterviewCancelled InterviewStatus = "CANCELLED"
)

// InboundStatus is the processing outcome of an inbound message.
type InboundStatus string

const (
	InboundRouted   InboundStatus = "ROUTED"
	InboundArchived InboundStatus = "ARCHIVED"
)

// Credential providers.
const (
	ProviderGmail   = "GMAIL"
	ProviderOutlook = "OUTLOOK"
	ProviderSMTP    = "SMTP"
)

// User is one tenant of the shared pipeline.
type User struct {
	ID               string         `json:"user_id" gorm:"column:user_id;type:varchar(36);primaryKey"`
	FullName         string         `json:"full_name" gorm:"type:varchar(255)"`
	Email            string         `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	EmailMode        EmailMode      `json:"email_mode" gorm:"type:varchar(10);not null;default:AUTO"`
	HourlyEmailLimit int            `json:"hourly_email_limit" gorm:"default:10"`
	DailyEmailLimit  int            `json:"daily_email_limit" gorm:"default:50"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (User) TableName() string { return "users" }

// EmailCredential holds one (user, provider, sender address) secret set.
// Token and password material is sealed at rest; at most one credential
// is active per (user, provider).
type EmailCredential struct {
	ID              string     `json:"credential_id" gorm:"column:credential_id;type:varchar(36);primaryKey"`
	UserID          string     `json:"user_id" gorm:"type:varchar(36);not null;index:idx_credentials_user_provider"`
	Provider        string     `json:"provider" gorm:"type:varchar(20);not null;index:idx_credentials_user_provider"`
	SenderEmail     string     `json:"sender_email" gorm:"type:varchar(255);not null"`
	RefreshTokenEnc []byte     `json:"-" gorm:"type:bytea"`
	AccessTokenEnc  []byte     `json:"-" gorm:"type:bytea"`
	TokenExpiresAt  *time.Time `json:"token_expires_at"`
	SMTPHost        string     `json:"smtp_host" gorm:"type:varchar(255)"`
	SMTPPort        int        `json:"smtp_port"`
	SMTPPasswordEnc []byte     `json:"-" gorm:"type:bytea"`
	IsActive        bool       `json:"is_active" gorm:"not null;default:true"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (EmailCredential) TableName() string { return "user_email_credentials" }

// Company is shared reference data, deduplicated by name.
type Company struct {
	ID        string    `json:"company_id" gorm:"column:company_id;type:varchar(36);primaryKey"`
	Name      string    `json:"company_name" gorm:"column:company_name;type:varchar(255);not null;uniqueIndex"`
	HREmail   string    `json:"hr_email" gorm:"type:varchar(255)"`
	Website   string    `json:"website" gorm:"type:varchar(512)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Company) TableName() string { return "companies" }

// Job is shared reference data, deduplicated by posting URL.
type Job struct {
	ID        string    `json:"job_id" gorm:"column:job_id;type:varchar(36);primaryKey"`
	CompanyID string    `json:"company_id" gorm:"type:varchar(36);index"`
	URL       string    `json:"job_url" gorm:"column:job_url;type:varchar(1024);not null;uniqueIndex"`
	Title     string    `json:"job_title" gorm:"column:job_title;type:varchar(255)"`
	Status    JobStatus `json:"status" gorm:"type:varchar(20);not null;default:DISCOVERED"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Company *Company `json:"company,omitempty" gorm:"foreignKey:CompanyID"`
}

func (Job) TableName() string { return "jobs" }

// Application is the tailored artifact for one (user, job) pair,
// versioned by resume revision.
type Application struct {
	ID            string            `json:"application_id" gorm:"column:application_id;type:varchar(36);primaryKey"`
	UserID        string            `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_applications_user_job_version,priority:1"`
	JobID         string            `json:"job_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_applications_user_job_version,priority:2"`
	ResumeVersion int               `json:"resume_version" gorm:"not null;default:1;uniqueIndex:ux_applications_user_job_version,priority:3"`
	EmailSubject  string            `json:"email_subject" gorm:"type:text"`
	EmailBody     string            `json:"email_body" gorm:"type:text"`
	Status        ApplicationStatus `json:"status" gorm:"type:varchar(20);not null;default:READY"`
	SentAt        *time.Time        `json:"sent_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (Application) TableName() string { return "applications" }

// DispatchRecord is one row per attempted send. The uniqueness of
// (user_id, job_id, body_hash) is the idempotency anchor for the whole
// outbound path: admission races are settled by this constraint alone.
type DispatchRecord struct {
	ID                string         `json:"dispatch_id" gorm:"column:dispatch_id;type:varchar(36);primaryKey"`
	UserID            string         `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_dispatch_user_job_hash,priority:1"`
	JobID             string         `json:"job_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_dispatch_user_job_hash,priority:2"`
	BodyHash          string         `json:"body_hash" gorm:"type:varchar(64);not null;uniqueIndex:ux_dispatch_user_job_hash,priority:3"`
	ApplicationID     *string        `json:"application_id" gorm:"type:varchar(36);index"`
	Purpose           string         `json:"purpose" gorm:"type:varchar(30);not null;default:COLD_OUTREACH"`
	RecipientEmail    string         `json:"recipient_email" gorm:"type:varchar(255);not null"`
	Subject           string         `json:"subject" gorm:"type:text"`
	Status            DispatchStatus `json:"status" gorm:"type:varchar(10);not null;default:PENDING;index"`
	Reason            string         `json:"reason" gorm:"type:text"`
	ProviderMessageID string         `json:"provider_message_id" gorm:"type:varchar(255)"`
	RetryCount        int            `json:"retry_count" gorm:"not null;default:0"`
	NextRetryAt       *time.Time     `json:"next_retry_at"`
	SentAt            *time.Time     `json:"sent_at" gorm:"index"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (DispatchRecord) TableName() string { return "email_dispatch_log" }

// Terminal reports whether the record can never be retried with the
// same content hash.
func (r *DispatchRecord) Terminal() bool {
	switch r.Status {
	case DispatchSent, DispatchBounced:
		return true
	case DispatchFailed:
		return r.RetryCount >= MaxDispatchRetries
	default:
		return false
	}
}

// InboundMessage is one row per (user, provider message id); a second
// delivery of the same message id is a no-op.
type InboundMessage struct {
	ID             string        `json:"inbound_id" gorm:"column:inbound_id;type:varchar(36);primaryKey"`
	UserID         string        `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_inbound_user_message,priority:1"`
	MessageID      string        `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_inbound_user_message,priority:2"`
	JobID          string        `json:"job_id" gorm:"type:varchar(36);index"`
	FromAddress    string        `json:"from_address" gorm:"type:varchar(255)"`
	Subject        string        `json:"subject" gorm:"type:text"`
	Classification string        `json:"classification" gorm:"type:varchar(30)"`
	RoutedAction   string        `json:"routed_action" gorm:"type:varchar(30)"`
	Status         InboundStatus `json:"status" gorm:"type:varchar(10);not null;default:ROUTED"`
	ReceivedAt     time.Time     `json:"received_at"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (InboundMessage) TableName() string { return "inbound_email_log" }

// Interview is one row per (user, job, proposed datetime); re-extracting
// the same event from a duplicate email never books twice.
type Interview struct {
	ID              string          `json:"interview_id" gorm:"column:interview_id;type:varchar(36);primaryKey"`
	UserID          string          `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_interviews_user_job_time,priority:1"`
	JobID           string          `json:"job_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_interviews_user_job_time,priority:2"`
	InterviewAt     time.Time       `json:"interview_datetime" gorm:"column:interview_datetime;not null;uniqueIndex:ux_interviews_user_job_time,priority:3"`
	DurationMinutes int             `json:"duration_minutes" gorm:"default:30"`
	Location        string          `json:"location" gorm:"type:varchar(512)"`
	OrganizerEmail  string          `json:"organizer_email" gorm:"type:varchar(255)"`
	CalendarEventID string          `json:"calendar_event_id" gorm:"type:varchar(255)"`
	Status          InterviewStatus `json:"status" gorm:"type:varchar(10);not null;default:SCHEDULED"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Interview) TableName() string { return "interviews" }

// WorkflowLog records one module boundary crossing for operational
// visibility. Append-only.
type WorkflowLog struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID        string    `json:"user_id" gorm:"type:varchar(36);index"`
	ModuleName    string    `json:"module_name" gorm:"type:varchar(50);not null"`
	ExecutionID   string    `json:"execution_id" gorm:"type:varchar(36);index"`
	Status        string    `json:"status" gorm:"type:varchar(20);not null"`
	OutputSummary string    `json:"output_summary" gorm:"type:text"`
	DurationMs    int64     `json:"duration_ms"`
	ErrorMsg      string    `json:"error_msg" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
}

func (WorkflowLog) TableName() string { return "workflow_logs" }
