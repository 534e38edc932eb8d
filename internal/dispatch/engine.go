// Package dispatch orchestrates one outbound send: ledger admission,
// quota reservation, credential acquisition, transport, and outcome
// recording. This is the only send path in the system; cold outreach,
// auto-replies and interview confirmations all enter here, tagged by
// purpose.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outreach-dispatch-go/internal/audit"
	"outreach-dispatch-go/internal/credential"
	"outreach-dispatch-go/internal/ledger"
	"outreach-dispatch-go/internal/metrics"
	"outreach-dispatch-go/internal/model"
	"outreach-dispatch-go/internal/ratelimit"
	"outreach-dispatch-go/internal/transport"
)

// Send purposes. One engine, polymorphic over the purpose tag.
const (
	PurposeColdOutreach = "COLD_OUTREACH"
	PurposeReply        = "REPLY"
	PurposeConfirmation = "INTERVIEW_CONFIRMATION"
)

// Outcome summarizes where the state machine terminated.
type Outcome string

const (
	OutcomeSent           Outcome = "SENT"
	OutcomeFailed         Outcome = "FAILED"
	OutcomeSkipped        Outcome = "SKIPPED"
	OutcomeDraftSaved     Outcome = "DRAFT_SAVED"
	OutcomeAlreadyHandled Outcome = "ALREADY_HANDLED"
)

// ValidationError rejects malformed input before any side effect.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// CredentialAcquirer is the slice of the credential store the engine
// uses.
type CredentialAcquirer interface {
	AcquireActive(ctx context.Context, userID string) (*credential.Credential, error)
}

// Request is one outbound send trigger. Subject and body arrive fully
// resolved (drafting and humanization happen upstream).
type Request struct {
	UserID        string
	JobID         string
	ApplicationID string
	Recipient     string
	Subject       string
	Body          string
	Purpose       string
	// Approved marks an explicit human approval; it bypasses the
	// DRAFT-mode short circuit.
	Approved bool
}

// Result is the definite status every dispatch call terminates in.
type Result struct {
	Outcome     Outcome
	Record      *model.DispatchRecord
	Application *model.Application
	Reason      string
	RetryAfter  time.Duration
}

// Engine runs the send state machine. It is stateless across calls
// except through the ledger, and holds no lock across network calls.
type Engine struct {
	db          *gorm.DB
	ledger      *ledger.Ledger
	limiter     *ratelimit.Limiter
	credentials CredentialAcquirer
	transport   transport.Transport
	auditor     *audit.Auditor
	metrics     *metrics.Metrics
	sendTimeout time.Duration
}

// NewEngine wires the dispatch engine.
func NewEngine(db *gorm.DB, l *ledger.Ledger, rl *ratelimit.Limiter, creds CredentialAcquirer, tr transport.Transport, auditor *audit.Auditor, m *metrics.Metrics) *Engine {
	return &Engine{
		db:          db,
		ledger:      l,
		limiter:     rl,
		credentials: creds,
		transport:   tr,
		auditor:     auditor,
		metrics:     m,
		sendTimeout: 30 * time.Second,
	}
}

// Dispatch runs the state machine for one request, short-circuiting on
// the first blocking condition. Every path terminates in a definite
// status; re-invocation with identical content is a no-op returning the
// prior outcome.
func (e *Engine) Dispatch(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	execID := uuid.NewString()

	res, err := e.dispatch(ctx, req, execID)

	entry := audit.Entry{
		UserID:      req.UserID,
		Module:      "email_dispatch",
		ExecutionID: execID,
		Duration:    time.Since(start),
		Err:         err,
	}
	if res != nil {
		entry.Status = string(res.Outcome)
		entry.Summary = map[string]any{
			"recipient": req.Recipient,
			"purpose":   req.Purpose,
			"reason":    res.Reason,
		}
		e.metrics.DispatchAttempts.WithLabelValues(string(res.Outcome)).Inc()
	} else {
		entry.Status = "ERROR"
	}
	e.auditor.Record(ctx, entry)
	e.metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	return res, err
}

func (e *Engine) dispatch(ctx context.Context, req Request, execID string) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.Purpose == "" {
		req.Purpose = PurposeColdOutreach
	}

	var user model.User
	if err := e.db.WithContext(ctx).First(&user, "user_id = ?", req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ValidationError{Msg: "unknown user " + req.UserID}
		}
		return nil, fmt.Errorf("dispatch: user lookup failed: %w", err)
	}

	// DRAFT mode short-circuits the whole machine: park the content on
	// an application awaiting approval. No ledger row, no quota.
	if user.EmailMode == model.EmailModeDraft && !req.Approved {
		app, err := e.saveDraft(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeDraftSaved, Application: app}, nil
	}

	bodyHash := ContentHash(req.Subject, req.Body)

	var appID *string
	if req.ApplicationID != "" {
		appID = &req.ApplicationID
	}
	rec, admitted, err := e.ledger.Register(ctx, ledger.Attempt{
		UserID:        req.UserID,
		JobID:         req.JobID,
		BodyHash:      bodyHash,
		ApplicationID: appID,
		Purpose:       req.Purpose,
		Recipient:     req.Recipient,
		Subject:       req.Subject,
	})
	if err != nil {
		return nil, err
	}
	if !admitted {
		logrus.WithFields(logrus.Fields{
			"user_id":   req.UserID,
			"job_id":    req.JobID,
			"body_hash": bodyHash,
			"status":    rec.Status,
		}).Info("duplicate dispatch, returning prior outcome")
		return &Result{Outcome: OutcomeAlreadyHandled, Record: rec, Reason: rec.Reason}, nil
	}

	decision, err := e.limiter.Reserve(ctx, &user)
	if err != nil {
		// Quota could not be evaluated; release the admission as a
		// transient failure so a later trigger can re-attempt.
		_ = e.ledger.MarkFailed(ctx, rec, "rate limit check failed: "+err.Error(), false)
		return &Result{Outcome: OutcomeFailed, Record: rec, Reason: rec.Reason}, nil
	}
	if !decision.Allowed {
		e.metrics.RateLimitDenials.Inc()
		if err := e.ledger.MarkSkipped(ctx, rec, decision.Reason, decision.RetryAfter); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeSkipped, Record: rec, Reason: decision.Reason, RetryAfter: decision.RetryAfter}, nil
	}

	cred, err := e.credentials.AcquireActive(ctx, req.UserID)
	if err != nil {
		reason := "credential acquisition failed: " + err.Error()
		if r, ok := credential.IsCredentialError(err); ok {
			reason = "credential " + string(r)
		}
		if err := e.ledger.MarkFailed(ctx, rec, reason, false); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeFailed, Record: rec, Reason: reason}, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	providerMessageID, err := e.transport.Send(sendCtx, cred, req.Recipient, req.Subject, req.Body)
	if err != nil {
		permanent := transport.IsPermanent(err)
		if mErr := e.ledger.MarkFailed(ctx, rec, err.Error(), permanent); mErr != nil {
			return nil, mErr
		}
		return &Result{Outcome: OutcomeFailed, Record: rec, Reason: err.Error()}, nil
	}

	if err := e.ledger.MarkSent(ctx, rec, providerMessageID); err != nil {
		return nil, err
	}
	e.finishSent(ctx, req)

	return &Result{Outcome: OutcomeSent, Record: rec}, nil
}

// DispatchApplication feeds a stored draft into the shared send path —
// the manual dispatch action, and the approval signal for DRAFT-mode
// users.
func (e *Engine) DispatchApplication(ctx context.Context, userID, applicationID string) (*Result, error) {
	var app model.Application
	err := e.db.WithContext(ctx).
		Where("application_id = ? AND user_id = ?", applicationID, userID).
		First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ValidationError{Msg: "application not found or access denied"}
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: application lookup failed: %w", err)
	}
	if app.EmailSubject == "" || app.EmailBody == "" {
		return nil, &ValidationError{Msg: "email not yet generated for this application"}
	}

	recipient, err := e.recipientForJob(ctx, app.JobID)
	if err != nil {
		return nil, err
	}

	return e.Dispatch(ctx, Request{
		UserID:        userID,
		JobID:         app.JobID,
		ApplicationID: app.ID,
		Recipient:     recipient,
		Subject:       app.EmailSubject,
		Body:          app.EmailBody,
		Purpose:       PurposeColdOutreach,
		Approved:      true,
	})
}

// ContentHash is the idempotency hash over the fully-resolved subject
// and body.
func ContentHash(subject, body string) string {
	sum := sha256.Sum256([]byte(subject + body))
	return hex.EncodeToString(sum[:])
}

func validate(req Request) error {
	switch {
	case req.UserID == "":
		return &ValidationError{Msg: "user_id is required"}
	case req.JobID == "":
		return &ValidationError{Msg: "job_id is required"}
	case req.Recipient == "":
		return &ValidationError{Msg: "recipient is required"}
	case req.Subject == "" && req.Body == "":
		return &ValidationError{Msg: "subject or body is required"}
	}
	return nil
}

// saveDraft parks the drafted content on the (user, job) application,
// creating version 1 when none exists.
func (e *Engine) saveDraft(ctx context.Context, req Request) (*model.Application, error) {
	app := model.Application{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		JobID:         req.JobID,
		ResumeVersion: 1,
		EmailSubject:  req.Subject,
		EmailBody:     req.Body,
		Status:        model.ApplicationPendingReview,
	}
	err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"}, {Name: "job_id"}, {Name: "resume_version"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"email_subject", "email_body", "status"}),
	}).Create(&app).Error
	if err != nil {
		return nil, fmt.Errorf("dispatch: save draft failed: %w", err)
	}

	var saved model.Application
	err = e.db.WithContext(ctx).
		Where("user_id = ? AND job_id = ? AND resume_version = ?", req.UserID, req.JobID, 1).
		First(&saved).Error
	if err != nil {
		return nil, fmt.Errorf("dispatch: load saved draft failed: %w", err)
	}
	return &saved, nil
}

// finishSent advances the dependent rows after transport acceptance.
// These are best-effort: the ledger already holds the outcome.
func (e *Engine) finishSent(ctx context.Context, req Request) {
	now := time.Now().UTC()
	if req.ApplicationID != "" {
		err := e.db.WithContext(ctx).Model(&model.Application{}).
			Where("application_id = ?", req.ApplicationID).
			Updates(map[string]any{"status": model.ApplicationSent, "sent_at": now}).Error
		if err != nil {
			logrus.Errorf("Failed to mark application %s sent: %v", req.ApplicationID, err)
		}
	}
	if req.Purpose == PurposeColdOutreach {
		err := e.db.WithContext(ctx).Model(&model.Job{}).
			Where("job_id = ? AND status = ?", req.JobID, model.JobDiscovered).
			Update("status", model.JobApplied).Error
		if err != nil {
			logrus.Errorf("Failed to advance job %s status: %v", req.JobID, err)
		}
	}
}

func (e *Engine) recipientForJob(ctx context.Context, jobID string) (string, error) {
	var job model.Job
	err := e.db.WithContext(ctx).Preload("Company").First(&job, "job_id = ?", jobID).Error
	if err != nil {
		return "", fmt.Errorf("dispatch: job lookup failed: %w", err)
	}
	if job.Company == nil || job.Company.HREmail == "" {
		return "", &ValidationError{Msg: "no recipient on record for job " + jobID}
	}
	return job.Company.HREmail, nil
}
