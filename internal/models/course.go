package models

import (
	"time"

	"gorm.io/gorm"
)

// DefaultPassMark is applied to courses created without a pass mark. An
// explicit 0 is kept and lets every submission pass.
const DefaultPassMark = 70

// Course groups modules, lessons and quizzes under a single pass mark policy.
type Course struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	PassMark  *int      `gorm:"not null;default:70" json:"pass_mark"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Modules   []Module  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"modules,omitempty"`
}

// BeforeCreate assigns a UUID and the default pass mark when none is set.
func (c *Course) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	if c.PassMark == nil {
		mark := DefaultPassMark
		c.PassMark = &mark
	}
	return nil
}

// EffectivePassMark returns the course pass mark, falling back to DefaultPassMark.
func (c Course) EffectivePassMark() int {
	if c.PassMark == nil {
		return DefaultPassMark
	}
	return *c.PassMark
}

// Module is an ordered section of a course.
type Module struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CourseID  string    `gorm:"size:36;index;not null" json:"course_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Position  int       `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Lessons   []Lesson  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"lessons,omitempty"`
}

// BeforeCreate assigns a UUID.
func (m *Module) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// Lesson is the unit of progress tracking.
type Lesson struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ModuleID  string    `gorm:"size:36;index;not null" json:"module_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Position  int       `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID.
func (l *Lesson) BeforeCreate(*gorm.DB) error {
	assignID(&l.ID)
	return nil
}

const (
	ProgressStatusNotStarted = "not_started"
	ProgressStatusStarted    = "started"
	ProgressStatusCompleted  = "completed"
)

// Progress tracks one learner's state for one lesson.
type Progress struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	UserID      string     `gorm:"size:64;not null;uniqueIndex:idx_progress_user_lesson" json:"user_id"`
	LessonID    string     `gorm:"size:36;not null;uniqueIndex:idx_progress_user_lesson" json:"lesson_id"`
	Status      string     `gorm:"size:32;not null;default:not_started" json:"status"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BeforeCreate assigns a UUID.
func (p *Progress) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}

// TableName avoids gorm pluralising "progress".
func (Progress) TableName() string {
	return "lesson_progress"
}

const (
	EnrollmentStatusAssigned  = "assigned"
	EnrollmentStatusStarted   = "started"
	EnrollmentStatusCompleted = "completed"
)

// ActiveEnrollmentStatuses are the statuses that may still transition to completed.
var ActiveEnrollmentStatuses = []string{EnrollmentStatusAssigned, EnrollmentStatusStarted}

// Enrollment links a learner to a course.
type Enrollment struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	UserID        string     `gorm:"size:64;not null;index:idx_enrollment_user_course" json:"user_id"`
	CourseID      string     `gorm:"size:36;not null;index:idx_enrollment_user_course" json:"course_id"`
	Status        string     `gorm:"size:32;not null;default:assigned" json:"status"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	CertificateID *string    `gorm:"size:36" json:"certificate_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// BeforeCreate assigns a UUID.
func (e *Enrollment) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	if e.Status == "" {
		e.Status = EnrollmentStatusAssigned
	}
	return nil
}

// IsActive reports whether the enrollment can still be completed.
func (e Enrollment) IsActive() bool {
	return e.Status == EnrollmentStatusAssigned || e.Status == EnrollmentStatusStarted
}
