// Package ratelimit enforces per-user send quotas over trailing hourly
// and daily windows. Counts are derived from SENT rows in the dispatch
// ledger; there is no separate counter state to keep consistent.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"outreach-dispatch-go/internal/model"
)

const (
	hourlyWindow = time.Hour
	dailyWindow  = 24 * time.Hour
)

// SentCounter is the slice of the ledger the limiter reads.
type SentCounter interface {
	CountSentSince(ctx context.Context, userID string, since time.Time) (int64, time.Time, error)
}

// Limiter decides whether a user may send now.
type Limiter struct {
	ledger        SentCounter
	defaultHourly int
	defaultDaily  int
	now           func() time.Time
}

// Decision is the outcome of a reservation. A denial is flow control,
// not an error: RetryAfter is the time until the oldest counted send
// leaves its window.
type Decision struct {
	Allowed    bool
	Scope      string // "hourly" or "daily" when denied
	Reason     string
	RetryAfter time.Duration
}

// New creates a limiter reading from the given ledger. Defaults apply
// to users without explicit limits.
func New(ledger SentCounter, defaultHourly, defaultDaily int) *Limiter {
	return &Limiter{
		ledger:        ledger,
		defaultHourly: defaultHourly,
		defaultDaily:  defaultDaily,
		now:           time.Now,
	}
}

// Reserve checks both ceilings; violating either denies. The limiter
// never blocks — callers defer and re-submit after RetryAfter.
func (l *Limiter) Reserve(ctx context.Context, user *model.User) (Decision, error) {
	hourlyLimit := user.HourlyEmailLimit
	if hourlyLimit <= 0 {
		hourlyLimit = l.defaultHourly
	}
	dailyLimit := user.DailyEmailLimit
	if dailyLimit <= 0 {
		dailyLimit = l.defaultDaily
	}

	now := l.now().UTC()

	if d, err := l.check(ctx, user.ID, now, hourlyWindow, hourlyLimit, "hourly"); err != nil || !d.Allowed {
		return d, err
	}
	return l.check(ctx, user.ID, now, dailyWindow, dailyLimit, "daily")
}

func (l *Limiter) check(ctx context.Context, userID string, now time.Time, window time.Duration, limit int, scope string) (Decision, error) {
	count, oldest, err := l.ledger.CountSentSince(ctx, userID, now.Add(-window))
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: %s window count failed: %w", scope, err)
	}
	if count < int64(limit) {
		return Decision{Allowed: true}, nil
	}

	retryAfter := oldest.Add(window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Allowed:    false,
		Scope:      scope,
		Reason:     fmt.Sprintf("RATE_LIMITED: %s limit %d reached (%d sent)", scope, limit, count),
		RetryAfter: retryAfter,
	}, nil
}
