package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/dto"
	"github.com/noah-isme/gema-lms-api/internal/models"
	"github.com/noah-isme/gema-lms-api/internal/observability"
	"github.com/noah-isme/gema-lms-api/internal/repository"
)

// ErrCertificateNotFound indicates no certificate matches the requested number.
var ErrCertificateNotFound = errors.New("certificate not found")

// DocumentUploader stores a rendered document and returns its public URL.
type DocumentUploader interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// CertificateInput carries the completion facts a certificate is issued for.
type CertificateInput struct {
	UserID       string
	CourseID     string
	EnrollmentID string
	Score        int
	MaxScore     int
	IssuedAt     time.Time
}

// CertificateGenerator issues certificate records. The repository argument lets
// callers issue inside their own transaction.
type CertificateGenerator interface {
	Generate(ctx context.Context, repo repository.CertificateRepository, input CertificateInput) (models.Certificate, error)
}

// CertificatePublisher renders and uploads the printable certificate document.
type CertificatePublisher interface {
	Publish(ctx context.Context, certificate models.Certificate, courseTitle string) (string, error)
}

// CertificateService exposes certificate use cases.
type CertificateService interface {
	CertificateGenerator
	CertificatePublisher
	ListForUser(ctx context.Context, userID string) ([]dto.CertificateResponse, error)
	Verify(ctx context.Context, number string) (dto.CertificateVerification, error)
}

type certificateService struct {
	certificates repository.CertificateRepository
	users        repository.UserRepository
	uploader     DocumentUploader
	logger       zerolog.Logger
	tracer       trace.Tracer
	newSuffix    func() string
}

var certificateTemplate = template.Must(template.New("certificate").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Certificate {{.Number}}</title>
</head>
<body>
<main class="certificate">
<h1>Certificate of Completion</h1>
<p class="recipient">{{.Recipient}}</p>
<p class="course">has completed <strong>{{.CourseTitle}}</strong></p>
<p class="score">Final score {{.Score}} / {{.MaxScore}}</p>
<p class="issued">Issued {{.IssuedAt}}</p>
<p class="number">{{.Number}}</p>
</main>
</body>
</html>
`))

type certificateDocument struct {
	Number      string
	Recipient   string
	CourseTitle string
	Score       int
	MaxScore    int
	IssuedAt    string
}

// NewCertificateService wires the certificate service. A nil uploader disables
// document publishing.
func NewCertificateService(certificates repository.CertificateRepository, users repository.UserRepository, uploader DocumentUploader, logger zerolog.Logger) CertificateService {
	return &certificateService{
		certificates: certificates,
		users:        users,
		uploader:     uploader,
		logger:       logger.With().Str("component", "certificate_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/gema-lms-api/internal/service/certificate"),
		newSuffix:    randomCertificateSuffix,
	}
}

// CertificateNumber formats a certificate number for the issue date.
func CertificateNumber(issuedAt time.Time, suffix string) string {
	return fmt.Sprintf("CERT-%s-%s", issuedAt.UTC().Format("20060102"), strings.ToUpper(suffix))
}

func randomCertificateSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (s *certificateService) Generate(ctx context.Context, repo repository.CertificateRepository, input CertificateInput) (models.Certificate, error) {
	if repo == nil {
		repo = s.certificates
	}

	ctx, span := s.tracer.Start(ctx, "certificates.generate", trace.WithAttributes(
		attribute.String("certificate.user_id", input.UserID),
		attribute.String("certificate.course_id", input.CourseID),
	))
	defer span.End()

	issuedAt := input.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	issuedAt = issuedAt.UTC()

	certificate := models.Certificate{
		Number:       CertificateNumber(issuedAt, s.newSuffix()),
		UserID:       input.UserID,
		CourseID:     input.CourseID,
		EnrollmentID: input.EnrollmentID,
		Score:        input.Score,
		MaxScore:     input.MaxScore,
		IssuedAt:     issuedAt,
	}

	if err := repo.Create(ctx, &certificate); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "certificate_create_failed")
		return models.Certificate{}, pkgerrors.Wrap(err, "create certificate")
	}

	observability.CertificatesIssued().Inc()
	span.SetAttributes(attribute.String("certificate.number", certificate.Number))

	return certificate, nil
}

func (s *certificateService) Publish(ctx context.Context, certificate models.Certificate, courseTitle string) (string, error) {
	if s.uploader == nil {
		return "", nil
	}

	ctx, span := s.tracer.Start(ctx, "certificates.publish", trace.WithAttributes(
		attribute.String("certificate.number", certificate.Number),
	))
	defer span.End()

	recipient := certificate.UserID
	if s.users != nil {
		user, err := s.users.GetByID(ctx, certificate.UserID)
		switch {
		case err == nil && strings.TrimSpace(user.Name) != "":
			recipient = user.Name
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			s.logger.Warn().Err(err).Str("user_id", certificate.UserID).Msg("failed to load certificate recipient")
		}
	}

	var buf bytes.Buffer
	err := certificateTemplate.Execute(&buf, certificateDocument{
		Number:      certificate.Number,
		Recipient:   recipient,
		CourseTitle: courseTitle,
		Score:       certificate.Score,
		MaxScore:    certificate.MaxScore,
		IssuedAt:    certificate.IssuedAt.UTC().Format("2 January 2006"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "certificate_render_failed")
		return "", fmt.Errorf("render certificate: %w", err)
	}

	detected := mimetype.Detect(buf.Bytes())
	if !detected.Is("text/html") {
		err := fmt.Errorf("unexpected certificate document type %s", detected.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, "certificate_render_failed")
		return "", err
	}

	url, err := s.uploader.Upload(ctx, "certificate-"+certificate.Number+detected.Extension(), &buf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "certificate_upload_failed")
		return "", fmt.Errorf("upload certificate: %w", err)
	}

	if err := s.certificates.SetDocumentURL(ctx, certificate.ID, url); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "certificate_update_failed")
		return "", fmt.Errorf("store certificate url: %w", err)
	}

	s.logger.Info().Str("certificate_number", certificate.Number).Str("url", url).Msg("certificate document published")

	return url, nil
}

func (s *certificateService) ListForUser(ctx context.Context, userID string) ([]dto.CertificateResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}

	certificates, err := s.certificates.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return dto.NewCertificateResponseSlice(certificates), nil
}

func (s *certificateService) Verify(ctx context.Context, number string) (dto.CertificateVerification, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return dto.CertificateVerification{}, ErrCertificateNotFound
	}

	certificate, err := s.certificates.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CertificateVerification{}, ErrCertificateNotFound
		}
		return dto.CertificateVerification{}, err
	}

	return dto.CertificateVerification{
		Valid:       true,
		Number:      certificate.Number,
		UserID:      certificate.UserID,
		CourseTitle: certificate.Course.Title,
		IssuedAt:    certificate.IssuedAt,
	}, nil
}
