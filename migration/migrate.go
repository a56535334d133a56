package migration

import (
	"lmsrmarket/models"

	"gorm.io/gorm"
)

// MigrateDB creates or updates every table the service uses.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Market{},
		&models.Outcome{},
		&models.Position{},
		&models.LedgerAuthorization{},
		&models.Account{},
		&models.Allowance{},
		&models.MarketEvent{},
	)
}
