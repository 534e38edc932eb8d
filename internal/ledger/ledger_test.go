package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"outreach-dispatch-go/internal/db"
	"outreach-dispatch-go/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// In-memory SQLite gives every connection its own database.
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func testAttempt() Attempt {
	return Attempt{
		UserID:    "user-1",
		JobID:     "job-1",
		BodyHash:  "a1b2c3",
		Purpose:   "COLD_OUTREACH",
		Recipient: "hr@example.com",
		Subject:   "Application",
	}
}

func TestRegisterAdmitsFirstAttempt(t *testing.T) {
	l := New(openTestDB(t))

	rec, admitted, err := l.Register(context.Background(), testAttempt())
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.Equal(t, model.DispatchPending, rec.Status)
	assert.NotEmpty(t, rec.ID)
}

func TestRegisterRejectsIncompleteAttempt(t *testing.T) {
	l := New(openTestDB(t))

	_, _, err := l.Register(context.Background(), Attempt{UserID: "user-1"})
	assert.Error(t, err)
}

func TestRegisterDuplicateOfSentIsNoOp(t *testing.T) {
	l := New(openTestDB(t))
	ctx := context.Background()

	rec, admitted, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	require.True(t, admitted)
	require.NoError(t, l.MarkSent(ctx, rec, "provider-msg-1"))

	again, admitted, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, model.DispatchSent, again.Status)
}

func TestRegisterDuplicateOfPendingIsNoOp(t *testing.T) {
	l := New(openTestDB(t))
	ctx := context.Background()

	rec, admitted, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	require.True(t, admitted)

	again, admitted, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, model.DispatchPending, again.Status)
}

func TestRegisterDifferentHashIsIndependent(t *testing.T) {
	l := New(openTestDB(t))
	ctx := context.Background()

	rec, admitted, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	require.True(t, admitted)
	require.NoError(t, l.MarkSent(ctx, rec, "provider-msg-1"))

	att := testAttempt()
	att.BodyHash = "d4e5f6"
	other, admitted, err := l.Register(ctx, att)
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.NotEqual(t, rec.ID, other.ID)
}

func TestRegisterConcurrentSingleWinner(t *testing.T) {
	l := New(openTestDB(t))
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, admitted, err := l.Register(ctx, testAttempt())
			if err == nil {
				results <- admitted
			}
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	total := 0
	for admitted := range results {
		total++
		if admitted {
			winners++
		}
	}
	assert.Equal(t, n, total)
	assert.Equal(t, 1, winners)
}

func TestRegisterReclaimsSkipped(t *testing.T) {
	l := New(openTestDB(t))
	ctx := context.Background()

	rec, _, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	require.NoError(t, l.MarkSkipped(ctx, rec, "RATE_LIMITED: hourly limit 10 reached (10 sent)", 30*time.Minute))

	again, admitted, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, model.DispatchPending, again.Status)
	assert.Empty(t, again.Reason)
	assert.Nil(t, again.NextRetryAt)
}

func TestRegisterReclaimsRetryableFailure(t *testing.T) {
	l := New(openTestDB(t))
	ctx := context.Background()

	rec, _, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	require.NoError(t, l.MarkFailed(ctx, rec, "connection reset", false))
	require.Equal(t, 1, rec.RetryCount)

	again, admitted, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.Equal(t, model.DispatchPending, again.Status)
	assert.Equal(t, 1, again.RetryCount)
}

func TestRegisterExhaustedFailureIsTerminal(t *testing.T) {
	l := New(openTestDB(t))
	ctx := context.Background()

	rec, _, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)

	for i := 0; i < model.MaxDispatchRetries; i++ {
		require.NoError(t, l.MarkFailed(ctx, rec, "connection reset", false))
		if rec.RetryCount < model.MaxDispatchRetries {
			_, admitted, err := l.Register(ctx, testAttempt())
			require.NoError(t, err)
			require.True(t, admitted)
		}
	}
	require.Equal(t, model.MaxDispatchRetries, rec.RetryCount)
	assert.True(t, rec.Terminal())

	_, admitted, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	assert.False(t, admitted)
}

func TestMarkFailedPermanentJumpsToCap(t *testing.T) {
	l := New(openTestDB(t))
	ctx := context.Background()

	rec, _, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	require.NoError(t, l.MarkFailed(ctx, rec, "550 invalid recipient", true))

	assert.Equal(t, model.MaxDispatchRetries, rec.RetryCount)
	assert.Nil(t, rec.NextRetryAt)
	assert.True(t, rec.Terminal())

	_, admitted, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)
	assert.False(t, admitted)
}

func TestMarkFailedBackoffDoubles(t *testing.T) {
	l := New(openTestDB(t))
	ctx := context.Background()

	rec, _, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)

	require.NoError(t, l.MarkFailed(ctx, rec, "timeout", false))
	require.NotNil(t, rec.NextRetryAt)
	first := time.Until(*rec.NextRetryAt)
	assert.InDelta(t, time.Minute.Seconds(), first.Seconds(), 5)

	require.NoError(t, l.MarkFailed(ctx, rec, "timeout", false))
	require.NotNil(t, rec.NextRetryAt)
	second := time.Until(*rec.NextRetryAt)
	assert.InDelta(t, (2 * time.Minute).Seconds(), second.Seconds(), 5)

	require.NoError(t, l.MarkFailed(ctx, rec, "timeout", false))
	assert.Nil(t, rec.NextRetryAt)
}

func TestMarkBouncedRequiresSent(t *testing.T) {
	l := New(openTestDB(t))
	ctx := context.Background()

	rec, _, err := l.Register(ctx, testAttempt())
	require.NoError(t, err)

	_, err = l.MarkBounced(ctx, "user-1", "provider-msg-1", "mailbox full")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	require.NoError(t, l.MarkSent(ctx, rec, "provider-msg-1"))

	bounced, err := l.MarkBounced(ctx, "user-1", "provider-msg-1", "mailbox full")
	require.NoError(t, err)
	assert.Equal(t, model.DispatchBounced, bounced.Status)
	assert.Equal(t, "mailbox full", bounced.Reason)
	assert.True(t, bounced.Terminal())
}

func TestCountSentSince(t *testing.T) {
	gdb := openTestDB(t)
	l := New(gdb)
	ctx := context.Background()

	now := time.Now().UTC()
	stamps := []time.Time{
		now.Add(-10 * time.Minute),
		now.Add(-40 * time.Minute),
		now.Add(-2 * time.Hour), // outside the hourly window
	}
	for i, ts := range stamps {
		sentAt := ts
		require.NoError(t, gdb.Create(&model.DispatchRecord{
			ID:             uuid.NewString(),
			UserID:         "user-1",
			JobID:          "job-1",
			BodyHash:       uuid.NewString(),
			RecipientEmail: "hr@example.com",
			Status:         model.DispatchSent,
			SentAt:         &sentAt,
		}).Error, "record %d", i)
	}

	count, oldest, err := l.CountSentSince(ctx, "user-1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.WithinDuration(t, now.Add(-40*time.Minute), oldest, time.Second)

	count, _, err = l.CountSentSince(ctx, "user-1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, oldest, err = l.CountSentSince(ctx, "user-2", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.True(t, oldest.IsZero())
}

func TestListPaginatesNewestFirst(t *testing.T) {
	gdb := openTestDB(t)
	l := New(gdb)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		att := testAttempt()
		att.BodyHash = uuid.NewString()
		_, _, err := l.Register(ctx, att)
		require.NoError(t, err)
	}

	recs, total, err := l.List(ctx, "user-1", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, recs, 3)

	recs, total, err = l.List(ctx, "user-1", 3, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, recs, 2)
}
