package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"outreach-dispatch-go/internal/audit"
	"outreach-dispatch-go/internal/config"
	"outreach-dispatch-go/internal/credential"
	"outreach-dispatch-go/internal/db"
	"outreach-dispatch-go/internal/dispatch"
	"outreach-dispatch-go/internal/fetcher"
	"outreach-dispatch-go/internal/interview"
	"outreach-dispatch-go/internal/ledger"
	"outreach-dispatch-go/internal/metrics"
	"outreach-dispatch-go/internal/model"
	"outreach-dispatch-go/internal/ratelimit"
	"outreach-dispatch-go/internal/reply"
)

var testMetrics = metrics.NewMetrics()

// dummyFetcher implements fetcher.Fetcher but does nothing
type dummyFetcher struct {
	emails []fetcher.InboundEmail
}

func (d *dummyFetcher) FetchNew(_ context.Context) ([]fetcher.InboundEmail, error) {
	return d.emails, nil
}
func (d *dummyFetcher) Close() error { return nil }

type dummyClassifier struct {
	label string
	jobID string
}

func (d *dummyClassifier) Classify(_ context.Context, _ fetcher.InboundEmail) (reply.Classification, string, error) {
	return reply.Classification{Label: d.label}, d.jobID, nil
}

type fakeCreds struct{}

func (fakeCreds) AcquireActive(_ context.Context, userID string) (*credential.Credential, error) {
	return &credential.Credential{UserID: userID, Provider: model.ProviderGmail}, nil
}

type fakeTransport struct{}

func (fakeTransport) Send(_ context.Context, _ *credential.Credential, _, _, _ string) (string, error) {
	return "msg-1", nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func newRouter(t *testing.T, gdb *gorm.DB) *reply.Router {
	t.Helper()
	auditor := audit.NewAuditor(gdb)
	led := ledger.New(gdb)
	engine := dispatch.NewEngine(gdb, led, ratelimit.New(led, 10, 50), fakeCreds{}, fakeTransport{}, auditor, testMetrics)
	interviews := interview.NewScheduler(gdb, nil, fakeCreds{}, engine)
	return reply.NewRouter(gdb, engine, interviews, auditor, testMetrics)
}

func TestSchedulerRestart(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 60}
	sched := NewScheduler(cfg, nil, &dummyFetcher{}, &dummyClassifier{label: reply.LabelOther}, nil, testMetrics)

	if err := sched.Start(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Fatalf("scheduler should be running after Start")
	}
	if err := sched.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if sched.IsRunning() {
		t.Fatalf("scheduler should not be running after Stop")
	}
	if err := sched.Start(); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Fatalf("scheduler should be running after second Start")
	}
	// context should be active
	if sched.ctx == nil || sched.ctx.Err() != nil {
		t.Fatalf("scheduler context should be active after restart")
	}
	sched.Stop()
}

func TestSchedulerDoubleStart(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 60}
	sched := NewScheduler(cfg, nil, &dummyFetcher{}, &dummyClassifier{label: reply.LabelOther}, nil, testMetrics)

	require.NoError(t, sched.Start())
	assert.Error(t, sched.Start())
	require.NoError(t, sched.Stop())
}

func TestProcessEmailRoutesToUser(t *testing.T) {
	gdb := openTestDB(t)
	router := newRouter(t, gdb)

	require.NoError(t, gdb.Create(&model.User{
		ID:        "user-1",
		Email:     "ada@example.com",
		EmailMode: model.EmailModeAuto,
	}).Error)
	require.NoError(t, gdb.Create(&model.Job{
		ID:     "job-1",
		URL:    "https://acme.example/jobs/1",
		Status: model.JobApplied,
	}).Error)

	f := &dummyFetcher{emails: []fetcher.InboundEmail{{
		MessageID:  "<msg-1@acme.example>",
		From:       "hr@acme.example",
		To:         []string{"ada@example.com"},
		Subject:    "Re: Application",
		Body:       "Unfortunately...",
		ReceivedAt: time.Now().UTC(),
	}}}
	cfg := &config.SchedulerConfig{IntervalMinutes: 60}
	sched := NewScheduler(cfg, gdb, f, &dummyClassifier{label: reply.LabelRejection, jobID: "job-1"}, router, testMetrics)

	// Run the cycle directly without starting the cron loop.
	sched.mu.Lock()
	sched.isRunning = true
	sched.mu.Unlock()
	sched.processReplies()

	var row model.InboundMessage
	require.NoError(t, gdb.First(&row, "message_id = ?", "<msg-1@acme.example>").Error)
	assert.Equal(t, "user-1", row.UserID)
	assert.Equal(t, reply.ActionArchivedRejection, row.RoutedAction)

	var job model.Job
	require.NoError(t, gdb.First(&job, "job_id = ?", "job-1").Error)
	assert.Equal(t, model.JobRejected, job.Status)
}

func TestProcessEmailUnknownRecipientSkipped(t *testing.T) {
	gdb := openTestDB(t)
	router := newRouter(t, gdb)

	f := &dummyFetcher{emails: []fetcher.InboundEmail{{
		MessageID: "<msg-2@acme.example>",
		To:        []string{"nobody@example.com"},
	}}}
	cfg := &config.SchedulerConfig{IntervalMinutes: 60}
	sched := NewScheduler(cfg, gdb, f, &dummyClassifier{label: reply.LabelOther}, router, testMetrics)

	sched.mu.Lock()
	sched.isRunning = true
	sched.mu.Unlock()
	sched.processReplies()

	var count int64
	require.NoError(t, gdb.Model(&model.InboundMessage{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
