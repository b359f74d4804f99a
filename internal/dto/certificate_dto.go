package dto

import (
	"time"

	"github.com/noah-isme/gema-lms-api/internal/models"
)

// CertificateResponse is the learner view of an issued certificate.
type CertificateResponse struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	CourseID    string    `json:"course_id"`
	CourseTitle string    `json:"course_title"`
	Score       int       `json:"score"`
	MaxScore    int       `json:"max_score"`
	DocumentURL string    `json:"document_url"`
	IssuedAt    time.Time `json:"issued_at"`
}

// CertificateVerification is returned by the public verification endpoint.
type CertificateVerification struct {
	Valid       bool      `json:"valid"`
	Number      string    `json:"number"`
	UserID      string    `json:"user_id"`
	CourseTitle string    `json:"course_title"`
	IssuedAt    time.Time `json:"issued_at"`
}

// NewCertificateResponse converts a certificate model into a DTO.
func NewCertificateResponse(model models.Certificate) CertificateResponse {
	return CertificateResponse{
		ID:          model.ID,
		Number:      model.Number,
		CourseID:    model.CourseID,
		CourseTitle: model.Course.Title,
		Score:       model.Score,
		MaxScore:    model.MaxScore,
		DocumentURL: model.DocumentURL,
		IssuedAt:    model.IssuedAt,
	}
}

// NewCertificateResponseSlice converts certificate models into DTOs.
func NewCertificateResponseSlice(items []models.Certificate) []CertificateResponse {
	out := make([]CertificateResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewCertificateResponse(item))
	}
	return out
}
