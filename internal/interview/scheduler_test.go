package interview

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"outreach-dispatch-go/internal/audit"
	"outreach-dispatch-go/internal/calendar"
	"outreach-dispatch-go/internal/credential"
	"outreach-dispatch-go/internal/db"
	"outreach-dispatch-go/internal/dispatch"
	"outreach-dispatch-go/internal/ledger"
	"outreach-dispatch-go/internal/metrics"
	"outreach-dispatch-go/internal/model"
	"outreach-dispatch-go/internal/ratelimit"
)

var testMetrics = metrics.NewMetrics()

type fakeTransport struct {
	sends []string
}

func (f *fakeTransport) Send(_ context.Context, _ *credential.Credential, to, _, _ string) (string, error) {
	f.sends = append(f.sends, to)
	return fmt.Sprintf("msg-%d", len(f.sends)), nil
}

type fakeCreds struct{}

func (fakeCreds) AcquireActive(_ context.Context, userID string) (*credential.Credential, error) {
	return &credential.Credential{UserID: userID, Provider: model.ProviderGmail, SenderEmail: "me@gmail.com"}, nil
}

type fakeCalendar struct {
	events int
	err    error
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ *credential.Credential, _ calendar.EventSpec) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.events++
	return fmt.Sprintf("event-%d", f.events), nil
}

type fixture struct {
	db        *gorm.DB
	scheduler *Scheduler
	calendar  *fakeCalendar
	transport *fakeTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(gdb))

	tr := &fakeTransport{}
	cal := &fakeCalendar{}
	led := ledger.New(gdb)
	engine := dispatch.NewEngine(gdb, led, ratelimit.New(led, 10, 50), fakeCreds{}, tr, audit.NewAuditor(gdb), testMetrics)
	sched := NewScheduler(gdb, cal, fakeCreds{}, engine)

	require.NoError(t, gdb.Create(&model.User{
		ID:               "user-1",
		Email:            "ada@example.com",
		EmailMode:        model.EmailModeAuto,
		HourlyEmailLimit: 10,
		DailyEmailLimit:  50,
	}).Error)
	require.NoError(t, gdb.Create(&model.Company{
		ID:      "company-1",
		Name:    "Acme",
		HREmail: "hr@acme.example",
	}).Error)
	require.NoError(t, gdb.Create(&model.Job{
		ID:        "job-1",
		CompanyID: "company-1",
		URL:       "https://acme.example/jobs/1",
		Title:     "Backend Engineer",
		Status:    model.JobReplied,
	}).Error)

	return &fixture{db: gdb, scheduler: sched, calendar: cal, transport: tr}
}

func proposalAt(start time.Time) Proposal {
	return Proposal{
		JobID:           "job-1",
		StartAt:         start,
		DurationMinutes: 45,
		Location:        "Video call",
		OrganizerEmail:  "recruiter@acme.example",
	}
}

func TestScheduleCreatesAndConfirms(t *testing.T) {
	f := newFixture(t)

	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute)
	outcome, iv, err := f.scheduler.Schedule(context.Background(), "user-1", proposalAt(start))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	require.NotNil(t, iv)
	assert.Equal(t, start, iv.InterviewAt.UTC())
	assert.Equal(t, "event-1", iv.CalendarEventID)
	assert.Equal(t, model.InterviewConfirmed, iv.Status)

	// The confirmation went to the organizer through the dispatch path.
	assert.Equal(t, []string{"recruiter@acme.example"}, f.transport.sends)

	var job model.Job
	require.NoError(t, f.db.First(&job, "job_id = ?", "job-1").Error)
	assert.Equal(t, model.JobInterview, job.Status)
}

func TestScheduleDuplicateTimeIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute)
	outcome, first, err := f.scheduler.Schedule(ctx, "user-1", proposalAt(start))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	outcome, again, err := f.scheduler.Schedule(ctx, "user-1", proposalAt(start))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyScheduled, outcome)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.calendar.events)
	assert.Len(t, f.transport.sends, 1)
}

func TestScheduleOverlapConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute)
	outcome, first, err := f.scheduler.Schedule(ctx, "user-1", proposalAt(start))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	// A distinct timestamp inside the window is surfaced, not booked.
	outcome, existing, err := f.scheduler.Schedule(ctx, "user-1", proposalAt(start.Add(30*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)
	assert.Equal(t, first.ID, existing.ID)

	var count int64
	require.NoError(t, f.db.Model(&model.Interview{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestScheduleDistantTimeIsIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute)
	outcome, _, err := f.scheduler.Schedule(ctx, "user-1", proposalAt(start))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	outcome, _, err = f.scheduler.Schedule(ctx, "user-1", proposalAt(start.Add(3*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	var count int64
	require.NoError(t, f.db.Model(&model.Interview{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestScheduleSurvivesCalendarFailure(t *testing.T) {
	f := newFixture(t)
	f.calendar.err = fmt.Errorf("calendar unavailable")

	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute)
	outcome, iv, err := f.scheduler.Schedule(context.Background(), "user-1", proposalAt(start))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	// The booking row is durable even though the calendar call failed.
	assert.Empty(t, iv.CalendarEventID)

	var count int64
	require.NoError(t, f.db.Model(&model.Interview{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.scheduler.Schedule(ctx, "user-1", Proposal{JobID: "job-1"})
	assert.Error(t, err)

	_, _, err = f.scheduler.Schedule(ctx, "user-1", Proposal{StartAt: time.Now()})
	assert.Error(t, err)
}
