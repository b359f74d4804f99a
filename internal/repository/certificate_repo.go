package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-lms-api/internal/models"
)

// CertificateRepository persists issued certificates.
type CertificateRepository interface {
	Create(ctx context.Context, certificate *models.Certificate) error
	ListByUser(ctx context.Context, userID string) ([]models.Certificate, error)
	GetByNumber(ctx context.Context, number string) (models.Certificate, error)
	SetDocumentURL(ctx context.Context, id, url string) error
}

type certificateRepository struct {
	db *gorm.DB
}

// NewCertificateRepository instantiates the repository.
func NewCertificateRepository(db *gorm.DB) CertificateRepository {
	return &certificateRepository{db: db}
}

func (r *certificateRepository) Create(ctx context.Context, certificate *models.Certificate) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(certificate).Error
}

func (r *certificateRepository) ListByUser(ctx context.Context, userID string) ([]models.Certificate, error) {
	var certificates []models.Certificate
	if err := r.db.WithContext(ctx).
		Preload("Course").
		Where("user_id = ?", userID).
		Order("issued_at DESC").
		Find(&certificates).Error; err != nil {
		return nil, err
	}

	return certificates, nil
}

func (r *certificateRepository) GetByNumber(ctx context.Context, number string) (models.Certificate, error) {
	var certificate models.Certificate
	if err := r.db.WithContext(ctx).Preload("Course").Where("number = ?", number).First(&certificate).Error; err != nil {
		return models.Certificate{}, err
	}

	return certificate, nil
}

func (r *certificateRepository) SetDocumentURL(ctx context.Context, id, url string) error {
	return r.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("id = ?", id).
		Update("document_url", url).Error
}
