// Package ledger implements the dispatch ledger: the durable,
// uniquely-constrained record of every send attempt. The unique index
// on (user_id, job_id, body_hash) is the only synchronization primitive
// the outbound path depends on; admission is a single insert-or-detect
// with no read-then-write window.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outreach-dispatch-go/internal/model"
)

// Ledger guards and audits outbound sends.
type Ledger struct {
	db *gorm.DB
}

// Attempt describes one requested send, before admission.
type Attempt struct {
	UserID        string
	JobID         string
	BodyHash      string
	ApplicationID *string
	Purpose       string
	Recipient     string
	Subject       string
}

// New creates a ledger backed by the given database.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Register admits at most one in-flight attempt per (user, job, body
// hash). The first caller gets admitted=true and owns driving the
// record to a terminal status. Later callers observe the existing
// record: terminal records are returned as-is (idempotent no-op), while
// SKIPPED and non-terminal FAILED records are reclaimed for another
// attempt via a conditional update, so exactly one of any set of
// concurrent re-submitters wins.
func (l *Ledger) Register(ctx context.Context, att Attempt) (*model.DispatchRecord, bool, error) {
	if att.UserID == "" || att.JobID == "" || att.BodyHash == "" {
		return nil, false, fmt.Errorf("ledger: user, job and body hash are required")
	}

	rec := model.DispatchRecord{
		ID:             uuid.NewString(),
		UserID:         att.UserID,
		JobID:          att.JobID,
		BodyHash:       att.BodyHash,
		ApplicationID:  att.ApplicationID,
		Purpose:        att.Purpose,
		RecipientEmail: att.Recipient,
		Subject:        att.Subject,
		Status:         model.DispatchPending,
	}

	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"}, {Name: "job_id"}, {Name: "body_hash"},
		},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil {
		return nil, false, fmt.Errorf("ledger: register failed: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &rec, true, nil
	}

	existing, err := l.find(ctx, att.UserID, att.JobID, att.BodyHash)
	if err != nil {
		return nil, false, err
	}

	// SENT, BOUNCED, in-flight PENDING and exhausted FAILED records are
	// never re-admitted.
	if existing.Status == model.DispatchPending || existing.Terminal() {
		return existing, false, nil
	}

	// SKIPPED or retryable FAILED: reclaim. The WHERE on the prior
	// status settles races between concurrent re-submitters.
	claim := l.db.WithContext(ctx).Model(&model.DispatchRecord{}).
		Where("dispatch_id = ? AND status = ?", existing.ID, existing.Status).
		Updates(map[string]any{
			"status":        model.DispatchPending,
			"reason":        "",
			"next_retry_at": nil,
		})
	if claim.Error != nil {
		return nil, false, fmt.Errorf("ledger: reclaim failed: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		// Someone else claimed or resolved it first.
		current, err := l.find(ctx, att.UserID, att.JobID, att.BodyHash)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}

	existing.Status = model.DispatchPending
	existing.Reason = ""
	existing.NextRetryAt = nil
	return existing, true, nil
}

// MarkSent finalizes an admitted record as SENT.
func (l *Ledger) MarkSent(ctx context.Context, rec *model.DispatchRecord, providerMessageID string) error {
	now := time.Now().UTC()
	err := l.db.WithContext(ctx).Model(rec).Updates(map[string]any{
		"status":              model.DispatchSent,
		"provider_message_id": providerMessageID,
		"sent_at":             now,
		"reason":              "",
	}).Error
	if err != nil {
		return fmt.Errorf("ledger: mark sent failed: %w", err)
	}
	rec.Status = model.DispatchSent
	rec.ProviderMessageID = providerMessageID
	rec.SentAt = &now
	return nil
}

// MarkSkipped finalizes an admitted record as SKIPPED (flow control,
// not failure). retryAfter records when re-submission becomes useful.
func (l *Ledger) MarkSkipped(ctx context.Context, rec *model.DispatchRecord, reason string, retryAfter time.Duration) error {
	next := time.Now().UTC().Add(retryAfter)
	err := l.db.WithContext(ctx).Model(rec).Updates(map[string]any{
		"status":        model.DispatchSkipped,
		"reason":        reason,
		"next_retry_at": next,
	}).Error
	if err != nil {
		return fmt.Errorf("ledger: mark skipped failed: %w", err)
	}
	rec.Status = model.DispatchSkipped
	rec.Reason = reason
	rec.NextRetryAt = &next
	return nil
}

// MarkFailed finalizes an admitted record as FAILED. Transient failures
// consume one retry and stamp next_retry_at with doubling backoff
// (1m, then 2m); permanent failures jump straight to the cap so later
// re-submissions with the same hash see a terminal record.
func (l *Ledger) MarkFailed(ctx context.Context, rec *model.DispatchRecord, reason string, permanent bool) error {
	retries := rec.RetryCount + 1
	if permanent || retries > model.MaxDispatchRetries {
		retries = model.MaxDispatchRetries
	}

	updates := map[string]any{
		"status":      model.DispatchFailed,
		"reason":      reason,
		"retry_count": retries,
	}
	var next *time.Time
	if retries < model.MaxDispatchRetries {
		backoff := time.Minute << (retries - 1)
		t := time.Now().UTC().Add(backoff)
		next = &t
		updates["next_retry_at"] = t
	} else {
		updates["next_retry_at"] = nil
	}

	if err := l.db.WithContext(ctx).Model(rec).Updates(updates).Error; err != nil {
		return fmt.Errorf("ledger: mark failed failed: %w", err)
	}
	rec.Status = model.DispatchFailed
	rec.Reason = reason
	rec.RetryCount = retries
	rec.NextRetryAt = next
	return nil
}

// MarkBounced applies the asynchronous delivery-status transition. Only
// SENT records bounce; anything else is left untouched.
func (l *Ledger) MarkBounced(ctx context.Context, userID, providerMessageID, reason string) (*model.DispatchRecord, error) {
	res := l.db.WithContext(ctx).Model(&model.DispatchRecord{}).
		Where("user_id = ? AND provider_message_id = ? AND status = ?",
			userID, providerMessageID, model.DispatchSent).
		Updates(map[string]any{
			"status": model.DispatchBounced,
			"reason": reason,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("ledger: mark bounced failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	var rec model.DispatchRecord
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND provider_message_id = ?", userID, providerMessageID).
		First(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: fetch bounced record failed: %w", err)
	}
	return &rec, nil
}

// CountSentSince returns the number of successful sends for the user
// with sent_at inside the trailing window, plus the oldest such
// timestamp (zero when the count is zero). The rate limiter derives its
// state entirely from this query.
func (l *Ledger) CountSentSince(ctx context.Context, userID string, since time.Time) (int64, time.Time, error) {
	var count int64
	q := l.db.WithContext(ctx).Model(&model.DispatchRecord{}).
		Where("user_id = ? AND status = ? AND sent_at > ?", userID, model.DispatchSent, since)
	if err := q.Count(&count).Error; err != nil {
		return 0, time.Time{}, fmt.Errorf("ledger: count sends failed: %w", err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}

	var oldest model.DispatchRecord
	err := l.db.WithContext(ctx).Model(&model.DispatchRecord{}).
		Where("user_id = ? AND status = ? AND sent_at > ?", userID, model.DispatchSent, since).
		Order("sent_at asc").
		First(&oldest).Error
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ledger: oldest send lookup failed: %w", err)
	}
	return count, *oldest.SentAt, nil
}

// Get returns one record by id.
func (l *Ledger) Get(ctx context.Context, id string) (*model.DispatchRecord, error) {
	var rec model.DispatchRecord
	if err := l.db.WithContext(ctx).First(&rec, "dispatch_id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns records for a user, newest first.
func (l *Ledger) List(ctx context.Context, userID string, offset, limit int) ([]model.DispatchRecord, int64, error) {
	scope := func() *gorm.DB {
		q := l.db.WithContext(ctx).Model(&model.DispatchRecord{})
		if userID != "" {
			q = q.Where("user_id = ?", userID)
		}
		return q
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("ledger: count records failed: %w", err)
	}

	var recs []model.DispatchRecord
	if err := scope().Order("created_at DESC").Offset(offset).Limit(limit).Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("ledger: list records failed: %w", err)
	}
	return recs, total, nil
}

func (l *Ledger) find(ctx context.Context, userID, jobID, bodyHash string) (*model.DispatchRecord, error) {
	var rec model.DispatchRecord
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND job_id = ? AND body_hash = ?", userID, jobID, bodyHash).
		First(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: lookup failed: %w", err)
	}
	return &rec, nil
}
