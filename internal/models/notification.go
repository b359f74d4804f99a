package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	NotificationTypeCourseCompleted   = "course_completed"
	NotificationTypeCertificateIssued = "certificate_issued"
)

// Notification represents an in-app message targeted to a specific user.
type Notification struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    string            `gorm:"size:64;index" json:"user_id"`
	Type      string            `gorm:"size:64" json:"type"`
	Title     string            `gorm:"size:255" json:"title"`
	Message   string            `gorm:"type:text" json:"message"`
	Read      bool              `gorm:"not null;default:false" json:"read"`
	Metadata  datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
