package models

import (
	"time"

	"gorm.io/gorm"
)

// Certificate is issued once per qualifying course completion.
type Certificate struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Number       string    `gorm:"size:64;uniqueIndex;not null" json:"number"`
	UserID       string    `gorm:"size:64;index;not null" json:"user_id"`
	CourseID     string    `gorm:"size:36;index;not null" json:"course_id"`
	EnrollmentID string    `gorm:"size:36;index" json:"enrollment_id"`
	Score        int       `gorm:"not null" json:"score"`
	MaxScore     int       `gorm:"not null" json:"max_score"`
	DocumentURL  string    `gorm:"size:512" json:"document_url"`
	IssuedAt     time.Time `gorm:"not null" json:"issued_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Course       Course    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"course"`
}

// BeforeCreate assigns a UUID.
func (c *Certificate) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}
