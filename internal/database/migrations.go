package database

import (
	"gorm.io/gorm"

	"github.com/wardenapp/warden/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Profile{},
		&models.Invite{},
		&models.User{},
		&models.Session{},
		&models.InviteUsage{},
		&models.EmailVerificationToken{},
		&models.PasswordResetToken{},
	)
}

// SeedData ensures a default provisioning profile exists.
func SeedData(db *gorm.DB) error {
	defaultProfile := models.Profile{
		Name:      "Default",
		Policy:    []byte(`{"EnableAllFolders":true,"IsAdministrator":false,"IsDisabled":false}`),
		IsDefault: true,
	}

	return db.
		Where(models.Profile{Name: defaultProfile.Name}).
		Attrs(defaultProfile).
		FirstOrCreate(&models.Profile{}).Error
}
