package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/models"
)

// AttemptRepository persists quiz attempts and their per-question answers.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.QuizAttempt) error
	GetByID(ctx context.Context, id string) (models.QuizAttempt, error)
	CountByQuizAndUser(ctx context.Context, quizID, userID string) (int64, error)
	MarkSubmitted(ctx context.Context, attempt *models.QuizAttempt) (bool, error)
	CreateAnswers(ctx context.Context, answers []models.QuizAttemptAnswer) error
}

type attemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository instantiates the repository.
func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

func (r *attemptRepository) Create(ctx context.Context, attempt *models.QuizAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *attemptRepository) GetByID(ctx context.Context, id string) (models.QuizAttempt, error) {
	var attempt models.QuizAttempt
	if err := r.db.WithContext(ctx).Preload("Answers").Where("id = ?", id).First(&attempt).Error; err != nil {
		return models.QuizAttempt{}, err
	}

	return attempt, nil
}

func (r *attemptRepository) CountByQuizAndUser(ctx context.Context, quizID, userID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.QuizAttempt{}).
		Where("quiz_id = ?", quizID).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// MarkSubmitted stores the score only while submitted_at is still NULL.
// It reports false when another submission got there first.
func (r *attemptRepository) MarkSubmitted(ctx context.Context, attempt *models.QuizAttempt) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.QuizAttempt{}).
		Where("id = ?", attempt.ID).
		Where("submitted_at IS NULL").
		Updates(map[string]interface{}{
			"score":        attempt.Score,
			"max_score":    attempt.MaxScore,
			"percentage":   attempt.Percentage,
			"passed":       attempt.Passed,
			"submitted_at": attempt.SubmittedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *attemptRepository) CreateAnswers(ctx context.Context, answers []models.QuizAttemptAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&answers).Error
}
