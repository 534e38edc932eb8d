package db

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"outreach-dispatch-go/internal/config"
	"outreach-dispatch-go/internal/model"
)

// Init opens the database connection, configures the pool and runs
// migrations.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logrus.Info("Database initialized successfully")
	return db, nil
}

// Migrate creates tables and the constraints the dispatch core relies
// on. The composite unique indexes declared on the models are the
// synchronization primitives for admission; they must exist before any
// dispatch runs.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.EmailCredential{},
		&model.Company{},
		&model.Job{},
		&model.Application{},
		&model.DispatchRecord{},
		&model.InboundMessage{},
		&model.Interview{},
		&model.WorkflowLog{},
	); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	// At most one active credential per (user, provider). Partial
	// indexes are Postgres-only; the credential store also enforces
	// this when activating, so other dialects (tests) stay correct.
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`
create unique index if not exists ux_credentials_user_provider_active
on user_email_credentials(user_id, provider)
where is_active;
`).Error; err != nil {
			return fmt.Errorf("failed to create active-credential index: %w", err)
		}
	}

	return nil
}
