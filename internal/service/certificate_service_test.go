package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-lms-api/internal/models"
	"github.com/noah-isme/gema-lms-api/internal/repository"
)

func newCertificateTestService(t *testing.T, uploader DocumentUploader) (CertificateService, lmsFixture, repository.CertificateRepository) {
	t.Helper()
	db := newLMSTestDB(t)
	fixture := seedLMSFixture(t, db, defaultFixtureOptions())
	certificates := repository.NewCertificateRepository(db)
	svc := NewCertificateService(certificates, repository.NewUserRepository(db), uploader, testLogger())
	return svc, fixture, certificates
}

func TestCertificateNumberFormat(t *testing.T) {
	issued := time.Date(2023, 12, 1, 23, 59, 0, 0, time.UTC)
	require.Equal(t, "CERT-20231201-ABCDEF12", CertificateNumber(issued, "abcdef12"))
}

func TestCertificateServiceGenerateAndVerify(t *testing.T) {
	svc, fixture, _ := newCertificateTestService(t, nil)
	ctx := context.Background()
	issuedAt := time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC)

	certificate, err := svc.Generate(ctx, nil, CertificateInput{
		UserID:       fixture.learnerID,
		CourseID:     fixture.course.ID,
		EnrollmentID: fixture.enrollment.ID,
		Score:        8,
		MaxScore:     10,
		IssuedAt:     issuedAt,
	})
	require.NoError(t, err)
	require.NotEmpty(t, certificate.ID)
	require.Regexp(t, `^CERT-20240229-[0-9A-F]{12}$`, certificate.Number)

	verification, err := svc.Verify(ctx, "  "+certificate.Number+" ")
	require.NoError(t, err)
	require.True(t, verification.Valid)
	require.Equal(t, fixture.learnerID, verification.UserID)
	require.Equal(t, "Intro to Go", verification.CourseTitle)
	require.True(t, verification.IssuedAt.Equal(issuedAt))

	_, err = svc.Verify(ctx, "CERT-00000000-DOESNOTEXIST")
	require.ErrorIs(t, err, ErrCertificateNotFound)

	_, err = svc.Verify(ctx, "")
	require.ErrorIs(t, err, ErrCertificateNotFound)
}

func TestCertificateServiceGenerateNumbersAreUnique(t *testing.T) {
	svc, fixture, _ := newCertificateTestService(t, nil)

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		certificate, err := svc.Generate(context.Background(), nil, CertificateInput{UserID: fixture.learnerID, CourseID: fixture.course.ID, Score: 1, MaxScore: 1})
		require.NoError(t, err)
		_, dup := seen[certificate.Number]
		require.False(t, dup, "duplicate certificate number %s", certificate.Number)
		seen[certificate.Number] = struct{}{}
	}
}

func TestCertificateServiceListForUser(t *testing.T) {
	svc, fixture, _ := newCertificateTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Generate(ctx, nil, CertificateInput{UserID: fixture.learnerID, CourseID: fixture.course.ID, Score: 3, MaxScore: 4})
	require.NoError(t, err)

	items, err := svc.ListForUser(ctx, fixture.learnerID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Intro to Go", items[0].CourseTitle)
	require.Equal(t, 3, items[0].Score)

	items, err = svc.ListForUser(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = svc.ListForUser(ctx, " ")
	require.Error(t, err)
}

func TestCertificateServicePublishUploadsHTML(t *testing.T) {
	uploader := &fakeUploader{}
	svc, fixture, repo := newCertificateTestService(t, uploader)
	ctx := context.Background()

	certificate, err := svc.Generate(ctx, nil, CertificateInput{UserID: fixture.learnerID, CourseID: fixture.course.ID, Score: 3, MaxScore: 4})
	require.NoError(t, err)

	url, err := svc.Publish(ctx, certificate, "Intro to <Go>")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/certificate-"+certificate.Number+".html", url)
	require.Contains(t, string(uploader.content), "Ada Lovelace")
	require.Contains(t, string(uploader.content), "Intro to &lt;Go&gt;")
	require.Contains(t, string(uploader.content), certificate.Number)

	stored, err := repo.GetByNumber(ctx, certificate.Number)
	require.NoError(t, err)
	require.Equal(t, url, stored.DocumentURL)
}

func TestCertificateServicePublishWithoutUploader(t *testing.T) {
	svc, _, _ := newCertificateTestService(t, nil)

	url, err := svc.Publish(context.Background(), models.Certificate{ID: "c", Number: "CERT-1"}, "Course")
	require.NoError(t, err)
	require.Empty(t, url)
}

func TestCertificateServicePublishUploadFailure(t *testing.T) {
	svc, fixture, repo := newCertificateTestService(t, &fakeUploader{err: errBoom})
	ctx := context.Background()

	certificate, err := svc.Generate(ctx, nil, CertificateInput{UserID: fixture.learnerID, CourseID: fixture.course.ID, Score: 1, MaxScore: 1})
	require.NoError(t, err)

	_, err = svc.Publish(ctx, certificate, "Intro to Go")
	require.ErrorIs(t, err, errBoom)

	stored, err := repo.GetByNumber(ctx, certificate.Number)
	require.NoError(t, err)
	require.Empty(t, stored.DocumentURL)
}
