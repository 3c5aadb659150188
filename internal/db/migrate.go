package db

import (
	"fmt"

	"github.com/JKgeneral1/IT-tgBot/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model the bridge persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.TicketMapping{},
		&models.StatusChange{},
		&models.UserComment{},
	}
}

// AutoMigrate creates or updates all bridge tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
