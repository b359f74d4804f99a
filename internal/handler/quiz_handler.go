package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lms-api/internal/dto"
	"github.com/noah-isme/gema-lms-api/internal/service"
	"github.com/noah-isme/gema-lms-api/internal/utils"
)

// QuizHandler exposes quiz attempt endpoints. Successful responses are written
// without the envelope so they match the quiz client contract.
type QuizHandler struct {
	submissions service.QuizSubmissionService
	attempts    service.QuizAttemptService
	logger      zerolog.Logger
	production  bool
	submitGuard fiber.Handler
}

// QuizHandlerOptions tunes the quiz handler.
type QuizHandlerOptions struct {
	// Production hides stack traces from 500 responses.
	Production bool
	// SubmitGuard runs before submissions, typically a rate limiter.
	SubmitGuard fiber.Handler
}

// NewQuizHandler constructs a quiz handler.
func NewQuizHandler(submissions service.QuizSubmissionService, attempts service.QuizAttemptService, logger zerolog.Logger, opts QuizHandlerOptions) *QuizHandler {
	return &QuizHandler{
		submissions: submissions,
		attempts:    attempts,
		logger:      logger.With().Str("component", "quiz_handler").Logger(),
		production:  opts.Production,
		submitGuard: opts.SubmitGuard,
	}
}

// Register binds the quiz routes.
func (h *QuizHandler) Register(router fiber.Router) {
	router.Post("/:id/attempts", h.start)
	if h.submitGuard != nil {
		router.Post("/:id/submit", h.submitGuard, h.submit)
	} else {
		router.Post("/:id/submit", h.submit)
	}
	router.Get("/:id/attempts/:attemptId", h.attempt)
}

func (h *QuizHandler) start(c *fiber.Ctx) error {
	learnerID := userIDStringFromContext(c)
	if learnerID == "" {
		return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
	}

	quizID := strings.TrimSpace(c.Params("id"))
	scopeQuiz(c, quizID, "")

	resp, err := h.attempts.Start(requestContext(c), learnerID, quizID)
	if err != nil {
		return h.handleError(c, err)
	}
	scopeQuiz(c, "", resp.Attempt.ID)

	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *QuizHandler) submit(c *fiber.Ctx) error {
	learnerID := userIDStringFromContext(c)
	if learnerID == "" {
		return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
	}

	var payload dto.QuizSubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid request body", nil)
	}

	quizID := strings.TrimSpace(c.Params("id"))
	scopeQuiz(c, quizID, strings.TrimSpace(payload.AttemptID))

	resp, err := h.submissions.Submit(requestContext(c), learnerID, quizID, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *QuizHandler) attempt(c *fiber.Ctx) error {
	learnerID := userIDStringFromContext(c)
	if learnerID == "" {
		return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
	}

	quizID, attemptID := strings.TrimSpace(c.Params("id")), strings.TrimSpace(c.Params("attemptId"))
	scopeQuiz(c, quizID, attemptID)

	resp, err := h.attempts.Get(requestContext(c), learnerID, quizID, attemptID)
	if err != nil {
		return h.handleError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *QuizHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "invalid quiz submission", validationDetails(err))
	case errors.Is(err, service.ErrUnauthenticated):
		return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
	case errors.Is(err, service.ErrAttemptNotFound):
		return utils.Fail(c, fiber.StatusBadRequest, "Attempt not found", nil)
	case errors.Is(err, service.ErrAttemptOwnership):
		return utils.Fail(c, fiber.StatusBadRequest, "Attempt does not belong to the current user", nil)
	case errors.Is(err, service.ErrAttemptQuizMismatch):
		return utils.Fail(c, fiber.StatusBadRequest, "Attempt does not belong to this quiz", nil)
	case errors.Is(err, service.ErrAttemptAlreadySubmitted):
		return utils.Fail(c, fiber.StatusBadRequest, "Attempt already submitted", nil)
	case errors.Is(err, service.ErrQuizNotFound):
		return utils.Fail(c, fiber.StatusNotFound, "Quiz not found", nil)
	case errors.Is(err, service.ErrNotEnrolled):
		return utils.Fail(c, fiber.StatusForbidden, "You are not enrolled in this course", nil)
	case errors.Is(err, service.ErrAttemptLimitReached):
		return utils.Fail(c, fiber.StatusConflict, "Attempt limit reached", nil)
	default:
		requestLogger(h.logger, c).Error().Err(err).Str("path", c.Path()).Msg("quiz request failed")
		return utils.Fail(c, fiber.StatusInternalServerError, err.Error(), internalErrorDetails(err, h.production))
	}
}
