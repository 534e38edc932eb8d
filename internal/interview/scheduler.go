// Package interview idempotently turns proposed interview events into
// calendar bookings. Uniqueness on (user, job, datetime) makes
// re-extraction from a duplicate or forwarded email a no-op.
package interview

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outreach-dispatch-go/internal/calendar"
	"outreach-dispatch-go/internal/dispatch"
	"outreach-dispatch-go/internal/model"
)

// Outcome of a scheduling attempt.
type Outcome string

const (
	OutcomeCreated          Outcome = "CREATED"
	OutcomeAlreadyScheduled Outcome = "ALREADY_SCHEDULED"
	OutcomeConflict         Outcome = "CONFLICT"
)

// overlapWindow is how close two distinct proposals for the same job
// must be to count as conflicting rather than independent.
const overlapWindow = time.Hour

// Proposal is one interview event extracted from a classified reply.
type Proposal struct {
	JobID           string
	StartAt         time.Time
	DurationMinutes int
	Location        string
	OrganizerEmail  string
}

// Scheduler books interviews and sends confirmations through the
// shared dispatch path.
type Scheduler struct {
	db          *gorm.DB
	calendar    calendar.Calendar
	credentials dispatch.CredentialAcquirer
	engine      *dispatch.Engine
}

// NewScheduler wires the interview scheduler.
func NewScheduler(db *gorm.DB, cal calendar.Calendar, creds dispatch.CredentialAcquirer, engine *dispatch.Engine) *Scheduler {
	return &Scheduler{db: db, calendar: cal, credentials: creds, engine: engine}
}

// Schedule books the proposed event. Exact duplicates are
// AlreadyScheduled; a distinct timestamp overlapping an existing
// SCHEDULED/CONFIRMED booking for the same job is a Conflict surfaced
// for human resolution, never auto-overwritten.
func (s *Scheduler) Schedule(ctx context.Context, userID string, p Proposal) (Outcome, *model.Interview, error) {
	if p.JobID == "" || p.StartAt.IsZero() {
		return "", nil, fmt.Errorf("interview: job and start time are required")
	}
	startAt := p.StartAt.UTC().Truncate(time.Minute)

	conflict, err := s.findOverlap(ctx, userID, p.JobID, startAt)
	if err != nil {
		return "", nil, err
	}
	if conflict != nil {
		return OutcomeConflict, conflict, nil
	}

	iv := model.Interview{
		ID:              uuid.NewString(),
		UserID:          userID,
		JobID:           p.JobID,
		InterviewAt:     startAt,
		DurationMinutes: p.DurationMinutes,
		Location:        p.Location,
		OrganizerEmail:  p.OrganizerEmail,
		Status:          model.InterviewScheduled,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"}, {Name: "job_id"}, {Name: "interview_datetime"},
		},
		DoNothing: true,
	}).Create(&iv)
	if res.Error != nil {
		return "", nil, fmt.Errorf("interview: insert failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var existing model.Interview
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND job_id = ? AND interview_datetime = ?", userID, p.JobID, startAt).
			First(&existing).Error
		if err != nil {
			return "", nil, fmt.Errorf("interview: duplicate lookup failed: %w", err)
		}
		return OutcomeAlreadyScheduled, &existing, nil
	}

	s.book(ctx, userID, &iv)
	s.advanceJob(ctx, p.JobID)
	s.confirm(ctx, userID, &iv)

	return OutcomeCreated, &iv, nil
}

// findOverlap looks for an active booking for the same job at a
// different time inside the overlap window.
func (s *Scheduler) findOverlap(ctx context.Context, userID, jobID string, startAt time.Time) (*model.Interview, error) {
	var existing model.Interview
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND job_id = ? AND status IN ?", userID, jobID,
			[]model.InterviewStatus{model.InterviewScheduled, model.InterviewConfirmed}).
		Where("interview_datetime <> ?", startAt).
		Where("interview_datetime > ? AND interview_datetime < ?",
			startAt.Add(-overlapWindow), startAt.Add(overlapWindow)).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, fmt.Errorf("interview: overlap check failed: %w", err)
}

// book creates the calendar event. The interview row is already
// durable; a calendar failure leaves the event id empty and is retried
// only by operator action.
func (s *Scheduler) book(ctx context.Context, userID string, iv *model.Interview) {
	cred, err := s.credentials.AcquireActive(ctx, userID)
	if err != nil {
		logrus.WithError(err).Warnf("No credential for calendar booking, interview %s stays unbooked", iv.ID)
		return
	}

	var job model.Job
	summary := "Interview"
	if err := s.db.WithContext(ctx).Preload("Company").First(&job, "job_id = ?", iv.JobID).Error; err == nil {
		if job.Company != nil && job.Company.Name != "" {
			summary = fmt.Sprintf("Interview: %s — %s", job.Company.Name, job.Title)
		} else if job.Title != "" {
			summary = "Interview: " + job.Title
		}
	}

	spec := calendar.EventSpec{
		Summary:  summary,
		Location: iv.Location,
		Start:    iv.InterviewAt,
		Duration: time.Duration(iv.DurationMinutes) * time.Minute,
	}
	if iv.OrganizerEmail != "" {
		spec.Attendees = []string{iv.OrganizerEmail}
	}

	eventID, err := s.calendar.CreateEvent(ctx, cred, spec)
	if err != nil {
		logrus.WithError(err).Errorf("Calendar booking failed for interview %s", iv.ID)
		return
	}

	if err := s.db.WithContext(ctx).Model(iv).Update("calendar_event_id", eventID).Error; err != nil {
		logrus.Errorf("Failed to store calendar event id for interview %s: %v", iv.ID, err)
		return
	}
	iv.CalendarEventID = eventID
}

// confirm sends the confirmation reply through the shared dispatch
// path; it is subject to the same ledger, quota and credential checks
// as every other send.
func (s *Scheduler) confirm(ctx context.Context, userID string, iv *model.Interview) {
	if iv.OrganizerEmail == "" {
		return
	}
	subject := "Interview confirmed: " + iv.InterviewAt.Format("Mon, 2 Jan 2006 15:04 MST")
	body := fmt.Sprintf(
		"Thank you — confirming the interview on %s.%s\n\nLooking forward to speaking with you.\n",
		iv.InterviewAt.Format("Monday, 2 January 2006 at 15:04 MST"),
		locationLine(iv.Location),
	)

	res, err := s.engine.Dispatch(ctx, dispatch.Request{
		UserID:    userID,
		JobID:     iv.JobID,
		Recipient: iv.OrganizerEmail,
		Subject:   subject,
		Body:      body,
		Purpose:   dispatch.PurposeConfirmation,
	})
	if err != nil {
		logrus.WithError(err).Warnf("Confirmation dispatch failed for interview %s", iv.ID)
		return
	}
	if res.Outcome == dispatch.OutcomeSent {
		if err := s.db.WithContext(ctx).Model(iv).Update("status", model.InterviewConfirmed).Error; err == nil {
			iv.Status = model.InterviewConfirmed
		}
	}
}

func (s *Scheduler) advanceJob(ctx context.Context, jobID string) {
	err := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("job_id = ?", jobID).
		Update("status", model.JobInterview).Error
	if err != nil {
		logrus.Errorf("Failed to advance job %s to interview: %v", jobID, err)
	}
}

func locationLine(location string) string {
	if location == "" {
		return ""
	}
	return " Location: " + location + "."
}
