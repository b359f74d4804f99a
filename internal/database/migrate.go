package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/models"
)

// Models lists every table owned by the service in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Course{},
		&models.Module{},
		&models.Lesson{},
		&models.Progress{},
		&models.Enrollment{},
		&models.Quiz{},
		&models.Question{},
		&models.Option{},
		&models.QuizAttempt{},
		&models.QuizAttemptAnswer{},
		&models.Certificate{},
		&models.Notification{},
	}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
