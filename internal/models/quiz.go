package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	QuestionTypeSingleChoice = "single_choice"
	QuestionTypeMultiChoice  = "multi_choice"
	QuestionTypeTrueFalse    = "true_false"
	QuestionTypeShortAnswer  = "short_answer"
)

// Quiz belongs to a course and owns an ordered list of questions.
type Quiz struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	CourseID         string     `gorm:"size:36;index;not null" json:"course_id"`
	Title            string     `gorm:"size:255;not null" json:"title"`
	PassMarkOverride *int       `json:"pass_mark_override"`
	MaxAttempts      *int       `json:"max_attempts"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Questions        []Question `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"questions"`
}

// BeforeCreate assigns a UUID.
func (q *Quiz) BeforeCreate(*gorm.DB) error {
	assignID(&q.ID)
	return nil
}

// PassMark resolves the effective pass mark for the quiz.
func (q Quiz) PassMark(course Course) int {
	if q.PassMarkOverride != nil {
		return *q.PassMarkOverride
	}
	return course.EffectivePassMark()
}

// Question is a single gradable item in a quiz.
type Question struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	QuizID          string    `gorm:"size:36;index;not null" json:"quiz_id"`
	Type            string    `gorm:"size:32;not null" json:"type"`
	Prompt          string    `gorm:"type:text" json:"prompt"`
	ExplanationHTML string    `gorm:"type:text" json:"explanation_html"`
	Points          int       `gorm:"not null;default:1" json:"points"`
	Position        int       `gorm:"not null;default:0" json:"position"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Options         []Option  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"options"`
}

// BeforeCreate assigns a UUID.
func (q *Question) BeforeCreate(*gorm.DB) error {
	assignID(&q.ID)
	return nil
}

// Option is a selectable answer for choice questions.
type Option struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	QuestionID string    `gorm:"size:36;index;not null" json:"question_id"`
	Label      string    `gorm:"size:512;not null" json:"label"`
	IsCorrect  bool      `gorm:"not null;default:false" json:"is_correct"`
	Position   int       `gorm:"not null;default:0" json:"position"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID.
func (o *Option) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// QuizAttempt is one learner's try at a quiz. A nil SubmittedAt means in progress.
type QuizAttempt struct {
	ID          string              `gorm:"primaryKey;size:36" json:"id"`
	QuizID      string              `gorm:"size:36;index;not null" json:"quiz_id"`
	UserID      string              `gorm:"size:64;index;not null" json:"user_id"`
	Score       *int                `json:"score"`
	MaxScore    int                 `gorm:"not null;default:0" json:"max_score"`
	Percentage  int                 `gorm:"not null;default:0" json:"percentage"`
	Passed      bool                `gorm:"not null;default:false" json:"passed"`
	StartedAt   time.Time           `gorm:"not null" json:"started_at"`
	SubmittedAt *time.Time          `json:"submitted_at"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Answers     []QuizAttemptAnswer `gorm:"foreignKey:AttemptID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"answers,omitempty"`
}

// BeforeCreate assigns a UUID and start time.
func (a *QuizAttempt) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	}
	return nil
}

// IsSubmitted reports whether the attempt has been scored.
func (a QuizAttempt) IsSubmitted() bool {
	return a.SubmittedAt != nil
}

// QuizAttemptAnswer records the verdict for one question of a submitted attempt.
type QuizAttemptAnswer struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	AttemptID     string         `gorm:"size:36;not null;uniqueIndex:idx_attempt_question" json:"attempt_id"`
	QuestionID    string         `gorm:"size:36;not null;uniqueIndex:idx_attempt_question" json:"question_id"`
	OptionIDs     datatypes.JSON `gorm:"type:json" json:"option_ids"`
	ResponseText  string         `gorm:"type:text" json:"response_text"`
	IsCorrect     bool           `gorm:"not null;default:false" json:"is_correct"`
	PointsAwarded int            `gorm:"not null;default:0" json:"points_awarded"`
	CreatedAt     time.Time      `json:"created_at"`
}

// BeforeCreate assigns a UUID.
func (a *QuizAttemptAnswer) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}
