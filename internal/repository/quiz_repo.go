package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/models"
)

// QuizRepository reads quiz definitions.
type QuizRepository interface {
	GetWithQuestions(ctx context.Context, id string) (models.Quiz, error)
}

type quizRepository struct {
	db *gorm.DB
}

// NewQuizRepository instantiates the repository.
func NewQuizRepository(db *gorm.DB) QuizRepository {
	return &quizRepository{db: db}
}

func (r *quizRepository) GetWithQuestions(ctx context.Context, id string) (models.Quiz, error) {
	var quiz models.Quiz
	err := r.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, created_at ASC")
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, created_at ASC")
		}).
		Where("id = ?", id).
		First(&quiz).Error
	if err != nil {
		return models.Quiz{}, err
	}

	return quiz, nil
}
