package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/dto"
	"github.com/noah-isme/gema-lms-api/internal/models"
	"github.com/noah-isme/gema-lms-api/internal/repository"
)

var (
	// ErrNotEnrolled indicates the learner has no enrollment for the quiz course.
	ErrNotEnrolled = errors.New("learner is not enrolled in this course")
	// ErrAttemptLimitReached indicates the quiz allows no further attempts.
	ErrAttemptLimitReached = errors.New("attempt limit reached")
)

// QuizAttemptService opens attempts and reads back their results.
type QuizAttemptService interface {
	Start(ctx context.Context, learnerID, quizID string) (dto.QuizAttemptStartResponse, error)
	Get(ctx context.Context, learnerID, quizID, attemptID string) (dto.QuizSubmitResponse, error)
}

type quizAttemptService struct {
	attempts    repository.AttemptRepository
	enrollments repository.EnrollmentRepository
	catalog     QuizCatalog
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	now         func() time.Time
}

// NewQuizAttemptService builds the attempt service.
func NewQuizAttemptService(attempts repository.AttemptRepository, enrollments repository.EnrollmentRepository, catalog QuizCatalog, logger zerolog.Logger) QuizAttemptService {
	return &quizAttemptService{
		attempts:    attempts,
		enrollments: enrollments,
		catalog:     catalog,
		sanitizer:   bluemonday.UGCPolicy(),
		logger:      logger.With().Str("component", "quiz_attempt_service").Logger(),
		now:         time.Now,
	}
}

func (s *quizAttemptService) Start(ctx context.Context, learnerID, quizID string) (dto.QuizAttemptStartResponse, error) {
	if strings.TrimSpace(learnerID) == "" {
		return dto.QuizAttemptStartResponse{}, ErrUnauthenticated
	}

	quiz, course, err := s.catalog.Get(ctx, quizID)
	if err != nil {
		return dto.QuizAttemptStartResponse{}, err
	}

	enrollment, err := s.enrollments.Find(ctx, learnerID, course.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.QuizAttemptStartResponse{}, ErrNotEnrolled
		}
		return dto.QuizAttemptStartResponse{}, err
	}

	if quiz.MaxAttempts != nil && *quiz.MaxAttempts > 0 {
		count, err := s.attempts.CountByQuizAndUser(ctx, quiz.ID, learnerID)
		if err != nil {
			return dto.QuizAttemptStartResponse{}, err
		}
		if count >= int64(*quiz.MaxAttempts) {
			return dto.QuizAttemptStartResponse{}, ErrAttemptLimitReached
		}
	}

	startedAt := s.now().UTC()
	attempt := models.QuizAttempt{
		QuizID:    quiz.ID,
		UserID:    learnerID,
		StartedAt: startedAt,
	}
	if err := s.attempts.Create(ctx, &attempt); err != nil {
		return dto.QuizAttemptStartResponse{}, err
	}

	if enrollment.Status == models.EnrollmentStatusAssigned {
		if err := s.enrollments.MarkStarted(ctx, enrollment.ID, startedAt); err != nil {
			s.logger.Warn().Err(err).Str("enrollment_id", enrollment.ID).Msg("failed to mark enrollment started")
		}
	}

	var response dto.QuizAttemptStartResponse
	response.Attempt.ID = attempt.ID
	response.Attempt.QuizID = attempt.QuizID
	response.Attempt.StartedAt = attempt.StartedAt
	response.Quiz = dto.NewQuizView(quiz, quiz.PassMark(course))

	return response, nil
}

func (s *quizAttemptService) Get(ctx context.Context, learnerID, quizID, attemptID string) (dto.QuizSubmitResponse, error) {
	if strings.TrimSpace(learnerID) == "" {
		return dto.QuizSubmitResponse{}, ErrUnauthenticated
	}

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.QuizSubmitResponse{}, ErrAttemptNotFound
		}
		return dto.QuizSubmitResponse{}, err
	}
	if attempt.UserID != learnerID {
		return dto.QuizSubmitResponse{}, ErrAttemptOwnership
	}
	if attempt.QuizID != quizID {
		return dto.QuizSubmitResponse{}, ErrAttemptQuizMismatch
	}

	response := dto.QuizSubmitResponse{
		Attempt: dto.NewQuizAttemptSummary(attempt),
		Results: []dto.QuestionResult{},
	}
	if !attempt.IsSubmitted() {
		return response, nil
	}

	quiz, _, err := s.catalog.Get(ctx, quizID)
	if err != nil {
		return dto.QuizSubmitResponse{}, err
	}

	verdicts := make(map[string]bool, len(attempt.Answers))
	for _, answer := range attempt.Answers {
		verdicts[answer.QuestionID] = answer.IsCorrect
	}
	for _, question := range quiz.Questions {
		response.Results = append(response.Results, dto.QuestionResult{
			QuestionID:      question.ID,
			IsCorrect:       verdicts[question.ID],
			ExplanationHTML: s.sanitizer.Sanitize(question.ExplanationHTML),
		})
	}

	return response, nil
}
