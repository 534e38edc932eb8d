package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-dispatch-go/internal/audit"
	"outreach-dispatch-go/internal/calendar"
	"outreach-dispatch-go/internal/classifier"
	"outreach-dispatch-go/internal/config"
	"outreach-dispatch-go/internal/credential"
	"outreach-dispatch-go/internal/db"
	"outreach-dispatch-go/internal/dispatch"
	"outreach-dispatch-go/internal/fetcher"
	"outreach-dispatch-go/internal/handlers"
	"outreach-dispatch-go/internal/interview"
	"outreach-dispatch-go/internal/ledger"
	"outreach-dispatch-go/internal/metrics"
	"outreach-dispatch-go/internal/ratelimit"
	"outreach-dispatch-go/internal/reply"
	"outreach-dispatch-go/internal/scheduler"
	"outreach-dispatch-go/internal/server"
	"outreach-dispatch-go/internal/transport"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Outreach Dispatch Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	m := metrics.NewMetrics()
	auditor := audit.NewAuditor(dbConn)

	led := ledger.New(dbConn)
	limiter := ratelimit.New(led, cfg.Limits.DefaultHourly, cfg.Limits.DefaultDaily)

	creds, err := credential.NewStore(dbConn, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create credential store: %w", err)
	}

	engine := dispatch.NewEngine(dbConn, led, limiter, creds, transport.NewMux(), auditor, m)
	interviews := interview.NewScheduler(dbConn, calendar.NewGoogleCalendar(), creds, engine)
	router := reply.NewRouter(dbConn, engine, interviews, auditor, m)

	var sched *scheduler.Scheduler
	var f fetcher.Fetcher
	if cfg.IMAP.Enabled {
		f, err = fetcher.NewIMAPFetcher(&cfg.IMAP)
		if err != nil {
			return fmt.Errorf("failed to create IMAP fetcher: %w", err)
		}
		cl := classifier.NewHTTPClassifier(&cfg.Classifier)
		sched = scheduler.NewScheduler(&cfg.Scheduler, dbConn, f, cl, router, m)
		logrus.Info("Inbound reply polling enabled")
	} else {
		logrus.Info("Inbound reply polling disabled, webhook only")
	}

	h := handlers.NewHandlers(dbConn, engine, led, router, sched, m)
	ginRouter := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      ginRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if sched != nil {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(); err != nil {
			logrus.Errorf("Failed to stop scheduler: %v", err)
		}
		sched.Wait()
	}

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if f != nil {
		if err := f.Close(); err != nil {
			logrus.Errorf("Failed to close fetcher: %v", err)
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
