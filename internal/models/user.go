package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a learner profile as far as certificates and notifications need it.
type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the identity provider did not supply one.
func (u *User) BeforeCreate(*gorm.DB) error {
	assignID(&u.ID)
	return nil
}
