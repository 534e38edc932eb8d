// Package scheduler drives the periodic inbound reply poll: fetch new
// mail, classify it, route it.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreach-dispatch-go/internal/classifier"
	"outreach-dispatch-go/internal/config"
	"outreach-dispatch-go/internal/fetcher"
	"outreach-dispatch-go/internal/metrics"
	"outreach-dispatch-go/internal/model"
	"outreach-dispatch-go/internal/reply"
)

// Scheduler manages the periodic reply processing loop.
type Scheduler struct {
	cron       *cron.Cron
	entryID    cron.EntryID
	config     *config.SchedulerConfig
	db         *gorm.DB
	fetcher    fetcher.Fetcher
	classifier classifier.Classifier
	router     *reply.Router
	metrics    *metrics.Metrics
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	mu         sync.RWMutex
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg *config.SchedulerConfig, db *gorm.DB, f fetcher.Fetcher, cl classifier.Classifier, router *reply.Router, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		config:     cfg,
		db:         db,
		fetcher:    f,
		classifier: cl,
		router:     router,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	schedule := fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)
	entryID, err := s.cron.AddFunc(schedule, s.processReplies)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Reply poll scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	s.cron.Remove(s.entryID)
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// processReplies runs one fetch/classify/route cycle.
func (s *Scheduler) processReplies() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	logrus.Info("Starting reply processing cycle")
	startTime := time.Now()
	s.metrics.PollCycles.Inc()

	emails, err := s.fetcher.FetchNew(ctx)
	if err != nil {
		logrus.Errorf("Failed to fetch inbound mail: %v", err)
		return
	}

	logrus.Infof("Fetched %d new inbound messages", len(emails))

	for _, email := range emails {
		if err := s.processEmail(ctx, email); err != nil {
			logrus.Errorf("Failed to process inbound message %s: %v", email.MessageID, err)
		}
	}

	logrus.Infof("Reply processing cycle completed in %v", time.Since(startTime))
}

// processEmail resolves the recipient user, classifies and routes one
// message. Classifier failures degrade to OTHER rather than dropping
// the message.
func (s *Scheduler) processEmail(ctx context.Context, email fetcher.InboundEmail) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled")
	default:
	}

	user, err := s.resolveUser(ctx, email.To)
	if err != nil {
		return err
	}
	if user == nil {
		logrus.Debugf("No user matches recipients of %s, skipping", email.MessageID)
		return nil
	}

	classification, jobID, err := s.classifier.Classify(ctx, email)
	if err != nil {
		logrus.Warnf("Classification failed for %s, routing to OTHER: %v", email.MessageID, err)
		classification = reply.Classification{Label: reply.LabelOther}
	}

	_, err = s.router.Route(ctx, reply.Inbound{
		UserID:         user.ID,
		MessageID:      email.MessageID,
		JobID:          jobID,
		From:           email.From,
		Subject:        email.Subject,
		Body:           email.Body,
		ReceivedAt:     email.ReceivedAt,
		Classification: classification,
	})
	return err
}

func (s *Scheduler) resolveUser(ctx context.Context, recipients []string) (*model.User, error) {
	if len(recipients) == 0 {
		return nil, nil
	}
	var user model.User
	err := s.db.WithContext(ctx).Where("email IN ?", recipients).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user resolution failed: %w", err)
	}
	return &user, nil
}

// RunOnce runs the reply processing once (for manual triggering).
func (s *Scheduler) RunOnce() error {
	logrus.Info("Running reply processing once")
	s.processReplies()
	return nil
}

// GetNextRun returns the time of the next scheduled run.
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last run.
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Prev
}

// Wait waits for in-flight processing to finish.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
