package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/models"
)

// EnrollmentRepository handles learner enrollments.
type EnrollmentRepository interface {
	Find(ctx context.Context, userID, courseID string) (models.Enrollment, error)
	FindActive(ctx context.Context, userID, courseID string) (models.Enrollment, error)
	MarkStarted(ctx context.Context, id string, startedAt time.Time) error
	Complete(ctx context.Context, id string, completedAt time.Time) (bool, error)
	LinkCertificate(ctx context.Context, id, certificateID string) error
}

type enrollmentRepository struct {
	db *gorm.DB
}

// NewEnrollmentRepository instantiates the repository.
func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

func (r *enrollmentRepository) baseQuery(ctx context.Context, userID, courseID string) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Enrollment{}).
		Where("user_id = ?", userID).
		Where("course_id = ?", courseID)
}

func (r *enrollmentRepository) Find(ctx context.Context, userID, courseID string) (models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := r.baseQuery(ctx, userID, courseID).Order("created_at DESC").First(&enrollment).Error; err != nil {
		return models.Enrollment{}, err
	}

	return enrollment, nil
}

func (r *enrollmentRepository) FindActive(ctx context.Context, userID, courseID string) (models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.baseQuery(ctx, userID, courseID).
		Where("status IN ?", models.ActiveEnrollmentStatuses).
		Order("created_at DESC").
		First(&enrollment).Error
	if err != nil {
		return models.Enrollment{}, err
	}

	return enrollment, nil
}

func (r *enrollmentRepository) MarkStarted(ctx context.Context, id string, startedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Enrollment{}).
		Where("id = ?", id).
		Where("status = ?", models.EnrollmentStatusAssigned).
		Updates(map[string]interface{}{
			"status":     models.EnrollmentStatusStarted,
			"started_at": startedAt,
		}).Error
}

// Complete transitions an assigned or started enrollment to completed.
// It reports false when the enrollment was no longer active.
func (r *enrollmentRepository) Complete(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Enrollment{}).
		Where("id = ?", id).
		Where("status IN ?", models.ActiveEnrollmentStatuses).
		Updates(map[string]interface{}{
			"status":       models.EnrollmentStatusCompleted,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *enrollmentRepository) LinkCertificate(ctx context.Context, id, certificateID string) error {
	result := r.db.WithContext(ctx).Model(&models.Enrollment{}).
		Where("id = ?", id).
		Update("certificate_id", certificateID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}
