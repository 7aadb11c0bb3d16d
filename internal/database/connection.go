// internal/database/connection.go
package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jbn434/lambda/internal/config"
	"github.com/jbn434/lambda/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	logLevel := logger.Info
	if cfg.LogLevel == "silent" {
		logLevel = logger.Silent
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Database connection established")
	return db, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Failed to get underlying sql.DB")
		return
	}
	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close database connection")
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations")

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		return fmt.Errorf("failed to create UUID extension: %w", err)
	}

	err := db.AutoMigrate(
		&models.Application{},
		&models.License{},
		&models.Attachment{},
		&models.AuditEntry{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_applications_holder_class ON applications(holder_id, license_class)",
		"CREATE INDEX IF NOT EXISTS idx_applications_state ON applications(state)",
		"CREATE INDEX IF NOT EXISTS idx_applications_agent ON applications(agent_id)",
		"CREATE INDEX IF NOT EXISTS idx_applications_created_at ON applications(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_applications_generation_pending ON applications(generation_pending) WHERE generation_pending",

		// One open request per holder and class, enforced at the database
		// as well as in the engine.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_applications_one_open
			ON applications(holder_id, license_class)
			WHERE state IN ('submitted', 'pending_approval', 'approved', 'renewal_requested', 'replacement_requested')
			AND deleted_at IS NULL`,

		"CREATE INDEX IF NOT EXISTS idx_licenses_holder ON licenses(holder_id)",
		"CREATE INDEX IF NOT EXISTS idx_licenses_status_expiry ON licenses(status, expires_at)",

		"CREATE INDEX IF NOT EXISTS idx_attachments_application ON attachments(application_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_entries_application ON audit_entries(application_id, created_at)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
