package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/models"
)

// ProgressRepository reads lesson progress. Nothing in the quiz flow writes it.
type ProgressRepository interface {
	CompletedLessonIDs(ctx context.Context, userID string, lessonIDs []string) (map[string]struct{}, error)
}

type progressRepository struct {
	db *gorm.DB
}

// NewProgressRepository instantiates the repository.
func NewProgressRepository(db *gorm.DB) ProgressRepository {
	return &progressRepository{db: db}
}

func (r *progressRepository) CompletedLessonIDs(ctx context.Context, userID string, lessonIDs []string) (map[string]struct{}, error) {
	completed := make(map[string]struct{})
	if len(lessonIDs) == 0 {
		return completed, nil
	}

	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Progress{}).
		Where("user_id = ?", userID).
		Where("lesson_id IN ?", lessonIDs).
		Where("status = ?", models.ProgressStatusCompleted).
		Pluck("lesson_id", &ids).Error
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		completed[id] = struct{}{}
	}

	return completed, nil
}
