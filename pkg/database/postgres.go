package database

import (
	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the Postgres connection and runs migrations.
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate auto-migrates every model, shared between the Postgres entrypoint
// and the in-memory test databases.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&crmdomain.EmailIntegration{},
		&crmdomain.EmailThread{},
		&crmdomain.EmailMessage{},
		&crmdomain.Contact{},
		&crmdomain.Opportunity{},
		&crmdomain.Activity{},
		&crmdomain.Webhook{},
		&crmdomain.AuditLog{},
	)
}
