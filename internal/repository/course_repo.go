package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/models"
)

// CourseRepository reads courses and their module/lesson tree.
type CourseRepository interface {
	GetByID(ctx context.Context, id string) (models.Course, error)
	LessonIDs(ctx context.Context, courseID string) ([]string, error)
}

type courseRepository struct {
	db *gorm.DB
}

// NewCourseRepository instantiates the repository.
func NewCourseRepository(db *gorm.DB) CourseRepository {
	return &courseRepository{db: db}
}

func (r *courseRepository) GetByID(ctx context.Context, id string) (models.Course, error) {
	var course models.Course
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&course).Error; err != nil {
		return models.Course{}, err
	}

	return course, nil
}

// LessonIDs walks every module of the course and returns the lesson identifiers in order.
func (r *courseRepository) LessonIDs(ctx context.Context, courseID string) ([]string, error) {
	var modules []models.Module
	err := r.db.WithContext(ctx).
		Preload("Lessons", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("course_id = ?", courseID).
		Order("position ASC").
		Find(&modules).Error
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	for _, module := range modules {
		for _, lesson := range module.Lessons {
			ids = append(ids, lesson.ID)
		}
	}

	return ids, nil
}
