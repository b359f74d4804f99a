package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/dto"
	"github.com/noah-isme/gema-lms-api/internal/models"
	"github.com/noah-isme/gema-lms-api/internal/repository"
)

type submissionHarness struct {
	db       *gorm.DB
	fixture  lmsFixture
	notifier *fakeCompletionNotifier
	uploader *fakeUploader
	issuer   *certificateService
	service  QuizSubmissionService
	now      time.Time
}

func newSubmissionHarness(t *testing.T, opts fixtureOptions) submissionHarness {
	t.Helper()

	db := newLMSTestDB(t)
	fixture := seedLMSFixture(t, db, opts)

	store := repository.NewStore(db)
	catalog := NewQuizCatalog(store.Quizzes(), store.Courses(), nil, time.Minute, testLogger())
	uploader := &fakeUploader{}
	certificates := NewCertificateService(store.Certificates(), repository.NewUserRepository(db), uploader, testLogger())
	notifier := &fakeCompletionNotifier{}
	validate := validator.New(validator.WithRequiredStructEnabled())

	svc := NewQuizSubmissionService(store, catalog, certificates, notifier, validate, testLogger())
	now := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)
	svc.(*quizSubmissionService).now = func() time.Time { return now }

	return submissionHarness{db: db, fixture: fixture, notifier: notifier, uploader: uploader, issuer: certificates.(*certificateService), service: svc, now: now}
}

func (h submissionHarness) allCorrect() []dto.QuizAnswerInput {
	return []dto.QuizAnswerInput{
		{QuestionID: h.fixture.singleID, OptionIDs: []string{h.fixture.singleCorrect}},
		{QuestionID: h.fixture.multiID, OptionIDs: []string{h.fixture.multiA, h.fixture.multiB}},
	}
}

func (h submissionHarness) reloadEnrollment(t *testing.T) models.Enrollment {
	t.Helper()
	var enrollment models.Enrollment
	require.NoError(t, h.db.First(&enrollment, "id = ?", h.fixture.enrollment.ID).Error)
	return enrollment
}

func (h submissionHarness) certificates(t *testing.T) []models.Certificate {
	t.Helper()
	var certificates []models.Certificate
	require.NoError(t, h.db.Where("user_id = ?", h.fixture.learnerID).Find(&certificates).Error)
	return certificates
}

func TestQuizSubmissionPassCompletesCourseAndIssuesCertificate(t *testing.T) {
	h := newSubmissionHarness(t, defaultFixtureOptions())
	attempt := h.fixture.startAttempt(t, h.db)

	resp, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{
		AttemptID: attempt.ID,
		Answers:   h.allCorrect(),
	})
	require.NoError(t, err)

	require.Equal(t, attempt.ID, resp.Attempt.ID)
	require.Equal(t, 3, resp.Attempt.Score)
	require.Equal(t, 4, resp.Attempt.MaxScore)
	require.Equal(t, 75, resp.Attempt.Percentage)
	require.True(t, resp.Attempt.Passed)
	require.NotNil(t, resp.Attempt.SubmittedAt)
	require.True(t, resp.Attempt.SubmittedAt.Equal(h.now))
	require.Len(t, resp.Results, 3)

	enrollment := h.reloadEnrollment(t)
	require.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	require.NotNil(t, enrollment.CompletedAt)
	require.NotNil(t, enrollment.CertificateID)

	certificates := h.certificates(t)
	require.Len(t, certificates, 1)
	certificate := certificates[0]
	require.Equal(t, *enrollment.CertificateID, certificate.ID)
	require.Equal(t, h.fixture.course.ID, certificate.CourseID)
	require.Equal(t, 3, certificate.Score)
	require.Equal(t, 4, certificate.MaxScore)
	require.Regexp(t, regexp.MustCompile(`^CERT-20240517-[0-9A-F]{12}$`), certificate.Number)
	require.Equal(t, "https://cdn.example.com/certificate-"+certificate.Number+".html", certificate.DocumentURL)

	calls := h.notifier.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, models.NotificationTypeCourseCompleted, calls[0].kind)
	require.Equal(t, 3, calls[0].score)
	require.Equal(t, 4, calls[0].maxScore)
	require.Equal(t, models.NotificationTypeCertificateIssued, calls[1].kind)
	require.Equal(t, certificate.Number, calls[1].number)

	var stored models.QuizAttempt
	require.NoError(t, h.db.Preload("Answers").First(&stored, "id = ?", attempt.ID).Error)
	require.True(t, stored.Passed)
	require.Len(t, stored.Answers, 3)
}

func TestQuizSubmissionResultsSanitizeExplanations(t *testing.T) {
	h := newSubmissionHarness(t, defaultFixtureOptions())
	attempt := h.fixture.startAttempt(t, h.db)

	resp, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{AttemptID: attempt.ID})
	require.NoError(t, err)

	require.Equal(t, h.fixture.singleID, resp.Results[0].QuestionID)
	require.Contains(t, resp.Results[0].ExplanationHTML, "<b>0</b>")
	require.NotContains(t, resp.Results[0].ExplanationHTML, "<script>")
	require.Equal(t, "", resp.Results[2].ExplanationHTML)
}

func TestQuizSubmissionFailDoesNotComplete(t *testing.T) {
	h := newSubmissionHarness(t, defaultFixtureOptions())
	attempt := h.fixture.startAttempt(t, h.db)

	resp, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{
		AttemptID: attempt.ID,
		Answers: []dto.QuizAnswerInput{
			{QuestionID: h.fixture.singleID, OptionIDs: []string{h.fixture.singleWrong}},
			{QuestionID: h.fixture.multiID, OptionIDs: []string{h.fixture.multiA, h.fixture.multiB}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Attempt.Score)
	require.Equal(t, 50, resp.Attempt.Percentage)
	require.False(t, resp.Attempt.Passed)

	require.Equal(t, models.EnrollmentStatusAssigned, h.reloadEnrollment(t).Status)
	require.Empty(t, h.certificates(t))
	require.Empty(t, h.notifier.snapshot())
}

func TestQuizSubmissionPassMarkOverride(t *testing.T) {
	opts := defaultFixtureOptions()
	override := 50
	opts.passMarkOverride = &override
	h := newSubmissionHarness(t, opts)
	attempt := h.fixture.startAttempt(t, h.db)

	resp, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{
		AttemptID: attempt.ID,
		Answers: []dto.QuizAnswerInput{
			{QuestionID: h.fixture.multiID, OptionIDs: []string{h.fixture.multiA, h.fixture.multiB}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 50, resp.Attempt.Percentage)
	require.True(t, resp.Attempt.Passed)
	require.Len(t, h.certificates(t), 1)
}

func TestQuizSubmissionPassWithIncompleteLessonsSkipsCompletion(t *testing.T) {
	opts := defaultFixtureOptions()
	opts.completedLessons = 1
	h := newSubmissionHarness(t, opts)
	attempt := h.fixture.startAttempt(t, h.db)

	resp, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{
		AttemptID: attempt.ID,
		Answers:   h.allCorrect(),
	})
	require.NoError(t, err)
	require.True(t, resp.Attempt.Passed)

	require.Equal(t, models.EnrollmentStatusAssigned, h.reloadEnrollment(t).Status)
	require.Empty(t, h.certificates(t))
	require.Empty(t, h.notifier.snapshot())
}

func TestQuizSubmissionPassWithoutLessonsSkipsCompletion(t *testing.T) {
	opts := defaultFixtureOptions()
	opts.lessons = 0
	opts.completedLessons = 0
	h := newSubmissionHarness(t, opts)
	attempt := h.fixture.startAttempt(t, h.db)

	resp, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{
		AttemptID: attempt.ID,
		Answers:   h.allCorrect(),
	})
	require.NoError(t, err)
	require.True(t, resp.Attempt.Passed)
	require.Empty(t, h.certificates(t))
}

func TestQuizSubmissionPassWithoutEnrollmentSkipsCompletion(t *testing.T) {
	opts := defaultFixtureOptions()
	opts.enroll = false
	h := newSubmissionHarness(t, opts)
	attempt := h.fixture.startAttempt(t, h.db)

	resp, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{
		AttemptID: attempt.ID,
		Answers:   h.allCorrect(),
	})
	require.NoError(t, err)
	require.True(t, resp.Attempt.Passed)
	require.Empty(t, h.certificates(t))
	require.Empty(t, h.notifier.snapshot())
}

func TestQuizSubmissionCompletedEnrollmentIsNotReissued(t *testing.T) {
	h := newSubmissionHarness(t, defaultFixtureOptions())

	first := h.fixture.startAttempt(t, h.db)
	_, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{AttemptID: first.ID, Answers: h.allCorrect()})
	require.NoError(t, err)

	second := h.fixture.startAttempt(t, h.db)
	resp, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{AttemptID: second.ID, Answers: h.allCorrect()})
	require.NoError(t, err)
	require.True(t, resp.Attempt.Passed)

	require.Len(t, h.certificates(t), 1)
	require.Len(t, h.notifier.snapshot(), 2)
}

func TestQuizSubmissionNotifierFailureDoesNotFailSubmission(t *testing.T) {
	h := newSubmissionHarness(t, defaultFixtureOptions())
	h.notifier.err = errBoom
	h.uploader.err = errBoom
	attempt := h.fixture.startAttempt(t, h.db)

	resp, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{AttemptID: attempt.ID, Answers: h.allCorrect()})
	require.NoError(t, err)
	require.True(t, resp.Attempt.Passed)

	certificates := h.certificates(t)
	require.Len(t, certificates, 1)
	require.Empty(t, certificates[0].DocumentURL)
	require.Equal(t, models.EnrollmentStatusCompleted, h.reloadEnrollment(t).Status)
}

func TestQuizSubmissionRejectsInvalidAttempts(t *testing.T) {
	h := newSubmissionHarness(t, defaultFixtureOptions())
	attempt := h.fixture.startAttempt(t, h.db)

	otherQuiz := models.Quiz{CourseID: h.fixture.course.ID, Title: "Other"}
	require.NoError(t, h.db.Create(&otherQuiz).Error)

	ctx := context.Background()

	_, err := h.service.Submit(ctx, h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{AttemptID: "missing"})
	require.ErrorIs(t, err, ErrAttemptNotFound)

	_, err = h.service.Submit(ctx, "someone-else", h.fixture.quiz.ID, dto.QuizSubmitRequest{AttemptID: attempt.ID})
	require.ErrorIs(t, err, ErrAttemptOwnership)

	_, err = h.service.Submit(ctx, h.fixture.learnerID, otherQuiz.ID, dto.QuizSubmitRequest{AttemptID: attempt.ID})
	require.ErrorIs(t, err, ErrAttemptQuizMismatch)

	_, err = h.service.Submit(ctx, "", h.fixture.quiz.ID, dto.QuizSubmitRequest{AttemptID: attempt.ID})
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = h.service.Submit(ctx, h.fixture.learnerID, h.fixture.quiz.ID, dto.QuizSubmitRequest{})
	var validationErrs validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrs))
}

func TestQuizSubmissionUnknownQuiz(t *testing.T) {
	h := newSubmissionHarness(t, defaultFixtureOptions())

	orphan := models.QuizAttempt{QuizID: "ghost-quiz", UserID: h.fixture.learnerID}
	require.NoError(t, h.db.Create(&orphan).Error)

	_, err := h.service.Submit(context.Background(), h.fixture.learnerID, "ghost-quiz", dto.QuizSubmitRequest{AttemptID: orphan.ID})
	require.ErrorIs(t, err, ErrQuizNotFound)
}

func TestQuizSubmissionRejectsResubmission(t *testing.T) {
	h := newSubmissionHarness(t, defaultFixtureOptions())
	attempt := h.fixture.startAttempt(t, h.db)

	payload := dto.QuizSubmitRequest{AttemptID: attempt.ID, Answers: h.allCorrect()}
	_, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, payload)
	require.NoError(t, err)

	var before models.QuizAttempt
	require.NoError(t, h.db.First(&before, "id = ?", attempt.ID).Error)

	payload.Answers = nil
	_, err = h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, payload)
	require.ErrorIs(t, err, ErrAttemptAlreadySubmitted)
	require.Len(t, h.certificates(t), 1)

	var after models.QuizAttempt
	require.NoError(t, h.db.First(&after, "id = ?", attempt.ID).Error)
	require.NotNil(t, after.Score)
	require.Equal(t, 3, *after.Score)
	require.Equal(t, *before.Score, *after.Score)
	require.Equal(t, 75, after.Percentage)
	require.Equal(t, before.Percentage, after.Percentage)
	require.True(t, after.Passed)
	require.NotNil(t, after.SubmittedAt)
	require.True(t, before.SubmittedAt.Equal(*after.SubmittedAt))
}

func TestQuizSubmissionRollsBackWhenCertificateCannotBeCreated(t *testing.T) {
	h := newSubmissionHarness(t, defaultFixtureOptions())
	attempt := h.fixture.startAttempt(t, h.db)

	h.issuer.newSuffix = func() string { return "abcdef012345" }
	taken := models.Certificate{
		Number:   CertificateNumber(h.now, "abcdef012345"),
		UserID:   "someone-else",
		CourseID: h.fixture.course.ID,
		IssuedAt: h.now,
	}
	require.NoError(t, h.db.Omit("Course").Create(&taken).Error)

	payload := dto.QuizSubmitRequest{AttemptID: attempt.ID, Answers: h.allCorrect()}
	_, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, payload)
	require.Error(t, err)

	var stored models.QuizAttempt
	require.NoError(t, h.db.First(&stored, "id = ?", attempt.ID).Error)
	require.Nil(t, stored.SubmittedAt)
	require.Nil(t, stored.Score)

	var answers int64
	require.NoError(t, h.db.Model(&models.QuizAttemptAnswer{}).Where("attempt_id = ?", attempt.ID).Count(&answers).Error)
	require.Zero(t, answers)

	enrollment := h.reloadEnrollment(t)
	require.Equal(t, models.EnrollmentStatusAssigned, enrollment.Status)
	require.Nil(t, enrollment.CompletedAt)
	require.Nil(t, enrollment.CertificateID)
	require.Empty(t, h.certificates(t))
	require.Empty(t, h.notifier.snapshot())

	h.issuer.newSuffix = randomCertificateSuffix
	resp, err := h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, payload)
	require.NoError(t, err)
	require.True(t, resp.Attempt.Passed)
	require.Len(t, h.certificates(t), 1)
	require.Equal(t, models.EnrollmentStatusCompleted, h.reloadEnrollment(t).Status)
}

func TestQuizSubmissionConcurrentSubmitsScoreOnce(t *testing.T) {
	h := newSubmissionHarness(t, defaultFixtureOptions())
	attempt := h.fixture.startAttempt(t, h.db)

	payload := dto.QuizSubmitRequest{AttemptID: attempt.ID, Answers: h.allCorrect()}

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.service.Submit(context.Background(), h.fixture.learnerID, h.fixture.quiz.ID, payload)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrAttemptAlreadySubmitted)
	}
	require.Equal(t, 1, succeeded)

	var answerCount int64
	require.NoError(t, h.db.Model(&models.QuizAttemptAnswer{}).Where("attempt_id = ?", attempt.ID).Count(&answerCount).Error)
	require.Equal(t, int64(3), answerCount)
	require.Len(t, h.certificates(t), 1)
}
