package database

import (
	"context"
	"strconv"

	"gorm.io/gorm"

	"github.com/charlesng35/lineauth/internal/models"
)

// Seed carries installation defaults written on first start only.
type Seed struct {
	RegistrationOpen bool
}

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.AccountLink{},
		&models.CacheEntry{},
		&models.SystemSetting{},
	)
}

// SeedData stores default system settings without overwriting values an operator changed.
func SeedData(db *gorm.DB, seed Seed) error {
	return SeedSystemSetting(context.Background(), db, RegistrationOpenSetting, strconv.FormatBool(seed.RegistrationOpen))
}
