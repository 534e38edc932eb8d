package reply

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
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
	"outreach-dispatch-go/internal/interview"
	"outreach-dispatch-go/internal/ledger"
	"outreach-dispatch-go/internal/metrics"
	"outreach-dispatch-go/internal/model"
	"outreach-dispatch-go/internal/ratelimit"
)

var testMetrics = metrics.NewMetrics()

type fakeTransport struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeTransport) Send(_ context.Context, _ *credential.Credential, to, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, to)
	return fmt.Sprintf("msg-%d", len(f.sends)), nil
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fakeCreds struct{}

func (fakeCreds) AcquireActive(_ context.Context, userID string) (*credential.Credential, error) {
	return &credential.Credential{UserID: userID, Provider: model.ProviderGmail, SenderEmail: "me@gmail.com"}, nil
}

type fakeCalendar struct {
	events int
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ *credential.Credential, _ calendar.EventSpec) (string, error) {
	f.events++
	return fmt.Sprintf("event-%d", f.events), nil
}

type routerFixture struct {
	db        *gorm.DB
	router    *Router
	transport *fakeTransport
	calendar  *fakeCalendar
}

func newFixture(t *testing.T) *routerFixture {
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
	auditor := audit.NewAuditor(gdb)
	led := ledger.New(gdb)
	engine := dispatch.NewEngine(gdb, led, ratelimit.New(led, 10, 50), fakeCreds{}, tr, auditor, testMetrics)
	interviews := interview.NewScheduler(gdb, cal, fakeCreds{}, engine)
	router := NewRouter(gdb, engine, interviews, auditor, testMetrics)

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
		Status:    model.JobApplied,
	}).Error)

	return &routerFixture{db: gdb, router: router, transport: tr, calendar: cal}
}

func inboundWith(label string, payload any) Inbound {
	raw, _ := json.Marshal(payload)
	return Inbound{
		UserID:     "user-1",
		MessageID:  "<msg-1@acme.example>",
		JobID:      "job-1",
		From:       "hr@acme.example",
		Subject:    "Re: Application",
		Body:       "Thanks for applying.",
		ReceivedAt: time.Now().UTC(),
		Classification: Classification{
			Label:   label,
			Payload: raw,
		},
	}
}

func (f *routerFixture) jobStatus(t *testing.T) model.JobStatus {
	t.Helper()
	var job model.Job
	require.NoError(t, f.db.First(&job, "job_id = ?", "job-1").Error)
	return job.Status
}

func TestRouteDuplicateMessageIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := inboundWith(LabelRejection, nil)
	action, err := f.router.Route(ctx, in)
	require.NoError(t, err)
	require.Equal(t, ActionArchivedRejection, action.Kind)

	action, err = f.router.Route(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, ActionDuplicate, action.Kind)

	var count int64
	require.NoError(t, f.db.Model(&model.InboundMessage{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRouteInterviewInvite(t *testing.T) {
	f := newFixture(t)

	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute)
	action, err := f.router.Route(context.Background(), inboundWith(LabelInterviewInvite, map[string]any{
		"proposed_time":    start,
		"duration_minutes": 45,
		"location":         "Video call",
		"organizer_email":  "recruiter@acme.example",
	}))
	require.NoError(t, err)
	assert.Equal(t, ActionScheduledInterview, action.Kind)
	require.NotNil(t, action.Interview)
	assert.Equal(t, start, action.Interview.InterviewAt.UTC())
	assert.Equal(t, 1, f.calendar.events)
	assert.Equal(t, model.JobInterview, f.jobStatus(t))

	// The confirmation went out through the shared send path.
	assert.Equal(t, []string{"recruiter@acme.example"}, f.transport.sends)
}

func TestRouteFollowUpDispatchesReply(t *testing.T) {
	f := newFixture(t)

	action, err := f.router.Route(context.Background(), inboundWith(LabelFollowUpRequired, map[string]any{
		"reply_subject":   "Re: Application",
		"reply_body":      "Happy to share more details.",
		"recipient_email": "hr@acme.example",
	}))
	require.NoError(t, err)
	assert.Equal(t, ActionDispatchedReply, action.Kind)
	require.NotNil(t, action.Dispatch)
	assert.Equal(t, dispatch.OutcomeSent, action.Dispatch.Outcome)
	assert.Equal(t, 1, f.transport.sendCount())
	assert.Equal(t, model.JobReplied, f.jobStatus(t))
}

func TestRouteReplyMissingDraftArchives(t *testing.T) {
	f := newFixture(t)

	action, err := f.router.Route(context.Background(), inboundWith(LabelInformationRequest, map[string]any{
		"recipient_email": "hr@acme.example",
	}))
	require.NoError(t, err)
	assert.Equal(t, ActionArchived, action.Kind)
	assert.Equal(t, 0, f.transport.sendCount())
}

func TestRouteRejection(t *testing.T) {
	f := newFixture(t)

	action, err := f.router.Route(context.Background(), inboundWith(LabelRejection, nil))
	require.NoError(t, err)
	assert.Equal(t, ActionArchivedRejection, action.Kind)
	assert.Equal(t, model.JobRejected, f.jobStatus(t))

	var row model.InboundMessage
	require.NoError(t, f.db.First(&row, "message_id = ?", "<msg-1@acme.example>").Error)
	assert.Equal(t, model.InboundArchived, row.Status)
	assert.Equal(t, ActionArchivedRejection, row.RoutedAction)
}

func TestRouteOtherArchives(t *testing.T) {
	f := newFixture(t)

	action, err := f.router.Route(context.Background(), inboundWith(LabelOther, nil))
	require.NoError(t, err)
	assert.Equal(t, ActionArchived, action.Kind)
	assert.Equal(t, 0, f.transport.sendCount())
	assert.Equal(t, model.JobReplied, f.jobStatus(t))
}

func TestRouteMalformedInvitePayloadArchives(t *testing.T) {
	f := newFixture(t)

	in := inboundWith(LabelInterviewInvite, nil)
	in.Classification.Payload = json.RawMessage(`{"proposed_time": "not-a-time"}`)
	action, err := f.router.Route(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ActionArchived, action.Kind)
	assert.Equal(t, 0, f.calendar.events)
}

func TestRouteValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Route(context.Background(), Inbound{MessageID: "<msg-1@acme.example>"})
	var verr *dispatch.ValidationError
	assert.ErrorAs(t, err, &verr)
}
