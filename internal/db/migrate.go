package db

import (
	"fmt"

	"github.com/itcshield/itc/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model in the job ledger.
func AllModels() []interface{} {
	return []interface{}{
		&models.BatchJob{},
		&models.JobEvent{},
		&models.ReconciliationRun{},
	}
}

// AutoMigrate creates or updates all ledger tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
