package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/dto"
	"github.com/noah-isme/gema-lms-api/internal/models"
	"github.com/noah-isme/gema-lms-api/internal/observability"
	"github.com/noah-isme/gema-lms-api/internal/repository"
)

var (
	// ErrAttemptNotFound indicates the attempt id does not exist.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptOwnership indicates the attempt belongs to another learner.
	ErrAttemptOwnership = errors.New("attempt does not belong to the current user")
	// ErrAttemptQuizMismatch indicates the attempt was opened for another quiz.
	ErrAttemptQuizMismatch = errors.New("attempt does not belong to this quiz")
	// ErrAttemptAlreadySubmitted indicates the attempt has already been scored.
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")
	// ErrUnauthenticated indicates no learner identity is attached to the request.
	ErrUnauthenticated = errors.New("authentication required")
)

// QuizSubmissionService scores attempts and drives the completion cascade.
type QuizSubmissionService interface {
	Submit(ctx context.Context, learnerID, quizID string, payload dto.QuizSubmitRequest) (dto.QuizSubmitResponse, error)
}

type quizSubmissionService struct {
	store        repository.Store
	catalog      QuizCatalog
	certificates CertificateService
	notifier     CompletionNotifier
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

type completionOutcome struct {
	enrollment  models.Enrollment
	certificate models.Certificate
}

// NewQuizSubmissionService wires the submission pipeline. The notifier may be nil.
func NewQuizSubmissionService(store repository.Store, catalog QuizCatalog, certificates CertificateService, notifier CompletionNotifier, validate *validator.Validate, logger zerolog.Logger) QuizSubmissionService {
	return &quizSubmissionService{
		store:        store,
		catalog:      catalog,
		certificates: certificates,
		notifier:     notifier,
		validator:    validate,
		sanitizer:    bluemonday.UGCPolicy(),
		logger:       logger.With().Str("component", "quiz_submission_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/gema-lms-api/internal/service/quiz_submission"),
		now:          time.Now,
	}
}

func (s *quizSubmissionService) Submit(ctx context.Context, learnerID, quizID string, payload dto.QuizSubmitRequest) (dto.QuizSubmitResponse, error) {
	if strings.TrimSpace(learnerID) == "" {
		return dto.QuizSubmitResponse{}, ErrUnauthenticated
	}

	ctx, span := s.tracer.Start(ctx, "quiz.submit", trace.WithAttributes(
		attribute.String("quiz.id", quizID),
		attribute.String("quiz.attempt_id", payload.AttemptID),
		attribute.String("quiz.learner_id", learnerID),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.QuizSubmitResponse{}, err
	}

	attempt, err := s.store.Attempts().GetByID(ctx, payload.AttemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "attempt_not_found")
			return dto.QuizSubmitResponse{}, ErrAttemptNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt_lookup_failed")
		return dto.QuizSubmitResponse{}, pkgerrors.Wrap(err, "load attempt")
	}

	if attempt.UserID != learnerID {
		span.SetStatus(codes.Error, "attempt_ownership")
		return dto.QuizSubmitResponse{}, ErrAttemptOwnership
	}
	if attempt.QuizID != quizID {
		span.SetStatus(codes.Error, "attempt_quiz_mismatch")
		return dto.QuizSubmitResponse{}, ErrAttemptQuizMismatch
	}
	if attempt.IsSubmitted() {
		span.SetStatus(codes.Error, "attempt_already_submitted")
		return dto.QuizSubmitResponse{}, ErrAttemptAlreadySubmitted
	}

	quiz, course, err := s.catalog.Get(ctx, quizID)
	if err != nil {
		span.SetStatus(codes.Error, "quiz_lookup_failed")
		if errors.Is(err, ErrQuizNotFound) {
			return dto.QuizSubmitResponse{}, err
		}
		span.RecordError(err)
		return dto.QuizSubmitResponse{}, pkgerrors.Wrap(err, "load quiz")
	}

	result := GradeQuiz(quiz, quiz.PassMark(course), payload.Answers)

	submittedAt := s.now().UTC()
	score := result.Score
	attempt.Score = &score
	attempt.MaxScore = result.MaxScore
	attempt.Percentage = result.Rounded
	attempt.Passed = result.Passed
	attempt.SubmittedAt = &submittedAt

	answers, err := buildAttemptAnswers(attempt.ID, result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer_encoding_failed")
		return dto.QuizSubmitResponse{}, pkgerrors.Wrap(err, "encode answers")
	}

	var outcome *completionOutcome
	err = s.store.WithinTransaction(ctx, func(tx repository.Store) error {
		updated, err := tx.Attempts().MarkSubmitted(ctx, &attempt)
		if err != nil {
			return pkgerrors.Wrap(err, "mark attempt submitted")
		}
		if !updated {
			return ErrAttemptAlreadySubmitted
		}

		if err := tx.Attempts().CreateAnswers(ctx, answers); err != nil {
			return pkgerrors.Wrap(err, "store attempt answers")
		}

		if !result.Passed {
			return nil
		}

		outcome, err = s.completeCourse(ctx, tx, learnerID, course, result, submittedAt)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAttemptAlreadySubmitted) {
			span.SetStatus(codes.Error, "attempt_already_submitted")
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "submission_failed")
		}
		return dto.QuizSubmitResponse{}, err
	}

	outcomeLabel := "failed"
	if result.Passed {
		outcomeLabel = "passed"
	}
	observability.QuizSubmissions().WithLabelValues(outcomeLabel).Inc()
	observability.QuizScorePercentage().Observe(float64(result.Rounded))

	span.SetAttributes(
		attribute.Int("quiz.score", result.Score),
		attribute.Int("quiz.max_score", result.MaxScore),
		attribute.Bool("quiz.passed", result.Passed),
		attribute.Bool("quiz.course_completed", outcome != nil),
	)

	s.logger.Info().
		Str("quiz_id", quizID).
		Str("attempt_id", attempt.ID).
		Str("learner_id", learnerID).
		Int("score", result.Score).
		Int("max_score", result.MaxScore).
		Bool("passed", result.Passed).
		Msg("quiz attempt submitted")

	if outcome != nil {
		s.afterCompletion(ctx, learnerID, course, result, *outcome)
	}

	return dto.QuizSubmitResponse{
		Attempt: dto.NewQuizAttemptSummary(attempt),
		Results: s.questionResults(result),
	}, nil
}

// completeCourse completes the active enrollment and issues its certificate
// when every lesson of the course is done. A nil outcome means the cascade did
// not apply.
func (s *quizSubmissionService) completeCourse(ctx context.Context, tx repository.Store, learnerID string, course models.Course, result GradeResult, completedAt time.Time) (*completionOutcome, error) {
	logger := s.logger.With().Str("learner_id", learnerID).Str("course_id", course.ID).Logger()

	enrollment, err := tx.Enrollments().FindActive(ctx, learnerID, course.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Debug().Msg("no active enrollment, skipping completion")
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "load enrollment")
	}

	lessonIDs, err := tx.Courses().LessonIDs(ctx, course.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load course lessons")
	}
	if len(lessonIDs) == 0 {
		logger.Debug().Msg("course has no lessons, skipping completion")
		return nil, nil
	}

	completed, err := tx.Progress().CompletedLessonIDs(ctx, learnerID, lessonIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load lesson progress")
	}
	for _, lessonID := range lessonIDs {
		if _, ok := completed[lessonID]; !ok {
			logger.Debug().Str("lesson_id", lessonID).Msg("lesson incomplete, skipping completion")
			return nil, nil
		}
	}

	transitioned, err := tx.Enrollments().Complete(ctx, enrollment.ID, completedAt)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "complete enrollment")
	}
	if !transitioned {
		return nil, nil
	}

	certificate, err := s.certificates.Generate(ctx, tx.Certificates(), CertificateInput{
		UserID:       learnerID,
		CourseID:     course.ID,
		EnrollmentID: enrollment.ID,
		Score:        result.Score,
		MaxScore:     result.MaxScore,
		IssuedAt:     completedAt,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Enrollments().LinkCertificate(ctx, enrollment.ID, certificate.ID); err != nil {
		return nil, pkgerrors.Wrap(err, "link certificate")
	}

	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.CompletedAt = &completedAt
	enrollment.CertificateID = &certificate.ID

	return &completionOutcome{enrollment: enrollment, certificate: certificate}, nil
}

// afterCompletion runs the side effects of a committed completion. None of
// them can fail the submission.
func (s *quizSubmissionService) afterCompletion(ctx context.Context, learnerID string, course models.Course, result GradeResult, outcome completionOutcome) {
	observability.CourseCompletions().Inc()

	if s.notifier != nil {
		if err := s.notifier.NotifyCourseCompleted(ctx, learnerID, course.ID, course.Title, result.Score, result.MaxScore); err != nil {
			observability.NotificationFailures().WithLabelValues(models.NotificationTypeCourseCompleted).Inc()
			s.logger.Warn().Err(err).Str("learner_id", learnerID).Msg("course completion notification failed")
		}
		if err := s.notifier.NotifyCertificateIssued(ctx, learnerID, course.ID, course.Title, outcome.certificate.Number); err != nil {
			observability.NotificationFailures().WithLabelValues(models.NotificationTypeCertificateIssued).Inc()
			s.logger.Warn().Err(err).Str("learner_id", learnerID).Msg("certificate notification failed")
		}
	}

	if _, err := s.certificates.Publish(ctx, outcome.certificate, course.Title); err != nil {
		s.logger.Warn().Err(err).Str("certificate_number", outcome.certificate.Number).Msg("certificate document publishing failed")
	}
}

func (s *quizSubmissionService) questionResults(result GradeResult) []dto.QuestionResult {
	results := make([]dto.QuestionResult, 0, len(result.Questions))
	for _, graded := range result.Questions {
		results = append(results, dto.QuestionResult{
			QuestionID:      graded.Question.ID,
			IsCorrect:       graded.IsCorrect,
			ExplanationHTML: s.sanitizer.Sanitize(graded.Question.ExplanationHTML),
		})
	}
	return results
}

func buildAttemptAnswers(attemptID string, result GradeResult) ([]models.QuizAttemptAnswer, error) {
	answers := make([]models.QuizAttemptAnswer, 0, len(result.Questions))
	for _, graded := range result.Questions {
		optionIDs := graded.OptionIDs
		if optionIDs == nil {
			optionIDs = []string{}
		}
		encoded, err := json.Marshal(optionIDs)
		if err != nil {
			return nil, err
		}

		answers = append(answers, models.QuizAttemptAnswer{
			AttemptID:     attemptID,
			QuestionID:    graded.Question.ID,
			OptionIDs:     datatypes.JSON(encoded),
			ResponseText:  graded.ResponseText,
			IsCorrect:     graded.IsCorrect,
			PointsAwarded: graded.PointsAwarded,
		})
	}
	return answers, nil
}
