// Package reply routes classified inbound messages to interview
// scheduling, auto-reply dispatch, or archival. Classification itself
// is an external collaborator; this package consumes its output.
package reply

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outreach-dispatch-go/internal/audit"
	"outreach-dispatch-go/internal/dispatch"
	"outreach-dispatch-go/internal/interview"
	"outreach-dispatch-go/internal/metrics"
	"outreach-dispatch-go/internal/model"
)

// Classification labels produced by the external classifier.
const (
	LabelInterviewInvite    = "INTERVIEW_INVITE"
	LabelFollowUpRequired   = "FOLLOW_UP_REQUIRED"
	LabelInformationRequest = "INFORMATION_REQUEST"
	LabelRejection          = "REJECTION"
	LabelOther              = "OTHER"
)

// Action kinds a routed message can produce.
const (
	ActionScheduledInterview = "SCHEDULED_INTERVIEW"
	ActionDispatchedReply    = "DISPATCHED_REPLY"
	ActionArchivedRejection  = "ARCHIVED_REJECTION"
	ActionArchived           = "ARCHIVED"
	ActionDuplicate          = "DUPLICATE"
)

// Classification is the external classifier's structured verdict.
type Classification struct {
	Label   string          `json:"label"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound is one received message plus its classification.
type Inbound struct {
	UserID         string
	MessageID      string
	JobID          string
	From           string
	Subject        string
	Body           string
	ReceivedAt     time.Time
	Classification Classification
}

// Action is the routed outcome.
type Action struct {
	Kind      string
	Interview *model.Interview
	Dispatch  *dispatch.Result
}

// interviewPayload is the expected INTERVIEW_INVITE payload shape.
type interviewPayload struct {
	ProposedTime    time.Time `json:"proposed_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Location        string    `json:"location"`
	OrganizerEmail  string    `json:"organizer_email"`
}

// replyPayload is the expected FOLLOW_UP_REQUIRED /
// INFORMATION_REQUEST payload shape. Reply content is drafted
// upstream; the router only carries it to the dispatch engine.
type replyPayload struct {
	ReplySubject   string `json:"reply_subject"`
	ReplyBody      string `json:"reply_body"`
	RecipientEmail string `json:"recipient_email"`
}

// Router routes inbound messages. There is exactly one send path in
// the system: auto-replies go through the same dispatch engine as cold
// outreach.
type Router struct {
	db         *gorm.DB
	engine     *dispatch.Engine
	interviews *interview.Scheduler
	auditor    *audit.Auditor
	metrics    *metrics.Metrics
}

// NewRouter wires the reply router.
func NewRouter(db *gorm.DB, engine *dispatch.Engine, interviews *interview.Scheduler, auditor *audit.Auditor, m *metrics.Metrics) *Router {
	return &Router{db: db, engine: engine, interviews: interviews, auditor: auditor, metrics: m}
}

// Route registers the (user, message id) pair and acts on the
// classification. Redelivery of an already-registered message id is a
// no-op. A payload that fails structural validation is routed to OTHER
// rather than dropped.
func (r *Router) Route(ctx context.Context, in Inbound) (*Action, error) {
	start := time.Now()
	execID := uuid.NewString()

	action, err := r.route(ctx, in)

	entry := audit.Entry{
		UserID:      in.UserID,
		Module:      "reply_router",
		ExecutionID: execID,
		Duration:    time.Since(start),
		Err:         err,
	}
	if action != nil {
		entry.Status = action.Kind
		entry.Summary = map[string]any{
			"message_id": in.MessageID,
			"label":      in.Classification.Label,
		}
		if action.Kind != ActionDuplicate {
			r.metrics.InboundRouted.WithLabelValues(in.Classification.Label).Inc()
		}
	} else {
		entry.Status = "ERROR"
	}
	r.auditor.Record(ctx, entry)

	return action, err
}

func (r *Router) route(ctx context.Context, in Inbound) (*Action, error) {
	if in.UserID == "" || in.MessageID == "" {
		return nil, &dispatch.ValidationError{Msg: "user_id and message_id are required"}
	}

	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	row := model.InboundMessage{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		MessageID:      in.MessageID,
		JobID:          in.JobID,
		FromAddress:    in.From,
		Subject:        in.Subject,
		Classification: in.Classification.Label,
		ReceivedAt:     receivedAt,
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "message_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("reply: inbound registration failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		logrus.WithFields(logrus.Fields{
			"user_id":    in.UserID,
			"message_id": in.MessageID,
		}).Info("duplicate inbound message, skipping")
		return &Action{Kind: ActionDuplicate}, nil
	}

	action, err := r.act(ctx, in)
	if err != nil {
		return nil, err
	}

	status := model.InboundRouted
	if action.Kind == ActionArchived || action.Kind == ActionArchivedRejection {
		status = model.InboundArchived
	}
	if uErr := r.db.WithContext(ctx).Model(&row).
		Updates(map[string]any{"routed_action": action.Kind, "status": status}).Error; uErr != nil {
		logrus.Errorf("Failed to record routed action for %s: %v", in.MessageID, uErr)
	}
	return action, nil
}

func (r *Router) act(ctx context.Context, in Inbound) (*Action, error) {
	r.advanceRepliedJob(ctx, in.JobID)

	switch in.Classification.Label {
	case LabelInterviewInvite:
		return r.scheduleInterview(ctx, in)
	case LabelFollowUpRequired, LabelInformationRequest:
		return r.dispatchReply(ctx, in)
	case LabelRejection:
		r.rejectJob(ctx, in.JobID)
		return &Action{Kind: ActionArchivedRejection}, nil
	default:
		return r.archive(ctx, in, nil)
	}
}

func (r *Router) scheduleInterview(ctx context.Context, in Inbound) (*Action, error) {
	var p interviewPayload
	if err := strictUnmarshal(in.Classification.Payload, &p); err != nil {
		return r.archive(ctx, in, fmt.Errorf("malformed INTERVIEW_INVITE payload: %w", err))
	}
	if in.JobID == "" || p.ProposedTime.IsZero() {
		return r.archive(ctx, in, fmt.Errorf("INTERVIEW_INVITE payload missing job or proposed time"))
	}
	organizer := p.OrganizerEmail
	if organizer == "" {
		organizer = in.From
	}

	outcome, iv, err := r.interviews.Schedule(ctx, in.UserID, interview.Proposal{
		JobID:           in.JobID,
		StartAt:         p.ProposedTime,
		DurationMinutes: p.DurationMinutes,
		Location:        p.Location,
		OrganizerEmail:  organizer,
	})
	if err != nil {
		return nil, err
	}
	r.metrics.InterviewOutcomes.WithLabelValues(string(outcome)).Inc()
	return &Action{Kind: ActionScheduledInterview, Interview: iv}, nil
}

func (r *Router) dispatchReply(ctx context.Context, in Inbound) (*Action, error) {
	var p replyPayload
	if err := strictUnmarshal(in.Classification.Payload, &p); err != nil {
		return r.archive(ctx, in, fmt.Errorf("malformed reply payload: %w", err))
	}
	if p.ReplySubject == "" || p.ReplyBody == "" {
		return r.archive(ctx, in, fmt.Errorf("reply payload missing drafted content"))
	}
	if in.JobID == "" {
		return r.archive(ctx, in, fmt.Errorf("reply payload missing job association"))
	}
	recipient := p.RecipientEmail
	if recipient == "" {
		recipient = in.From
	}

	res, err := r.engine.Dispatch(ctx, dispatch.Request{
		UserID:    in.UserID,
		JobID:     in.JobID,
		Recipient: recipient,
		Subject:   p.ReplySubject,
		Body:      p.ReplyBody,
		Purpose:   dispatch.PurposeReply,
	})
	if err != nil {
		return nil, err
	}
	return &Action{Kind: ActionDispatchedReply, Dispatch: res}, nil
}

// archive handles OTHER and every classification error: keep the row,
// flag it for human review, take no network action.
func (r *Router) archive(ctx context.Context, in Inbound, cause error) (*Action, error) {
	if cause != nil {
		logrus.WithError(cause).WithFields(logrus.Fields{
			"user_id":    in.UserID,
			"message_id": in.MessageID,
			"label":      in.Classification.Label,
		}).Warn("classification rejected, archiving for review")
	}
	return &Action{Kind: ActionArchived}, nil
}

// advanceRepliedJob moves a job that got any reply from APPLIED to
// REPLIED; later routing may advance it further.
func (r *Router) advanceRepliedJob(ctx context.Context, jobID string) {
	if jobID == "" {
		return
	}
	err := r.db.WithContext(ctx).Model(&model.Job{}).
		Where("job_id = ? AND status = ?", jobID, model.JobApplied).
		Update("status", model.JobReplied).Error
	if err != nil {
		logrus.Errorf("Failed to advance job %s to replied: %v", jobID, err)
	}
}

func (r *Router) rejectJob(ctx context.Context, jobID string) {
	if jobID == "" {
		return
	}
	err := r.db.WithContext(ctx).Model(&model.Job{}).
		Where("job_id = ?", jobID).
		Update("status", model.JobRejected).Error
	if err != nil {
		logrus.Errorf("Failed to mark job %s rejected: %v", jobID, err)
	}
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(raw, v)
}
