package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lms-api/internal/middleware"
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func userIDStringFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_id"); v != nil {
		switch id := v.(type) {
		case string:
			return strings.TrimSpace(id)
		case uint:
			return strconv.FormatUint(uint64(id), 10)
		case int:
			if id < 0 {
				return ""
			}
			return strconv.Itoa(id)
		case fmt.Stringer:
			return strings.TrimSpace(id.String())
		}
	}
	return ""
}

// requestContext returns the request user context carrying the request scope.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithScope(ctx, middleware.ScopeOf(c))
}

// requestLogger tags base with the correlation, learner, quiz and attempt ids
// known for the request.
func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	if c == nil {
		return &base
	}
	logger := middleware.ScopeOf(c).Fields(base.With()).Logger()
	return &logger
}

// scopeQuiz records the quiz activity a handler is serving on the request scope.
func scopeQuiz(c *fiber.Ctx, quizID, attemptID string) {
	middleware.Annotate(c, func(scope *middleware.RequestScope) {
		if quizID != "" {
			scope.QuizID = quizID
		}
		if attemptID != "" {
			scope.AttemptID = attemptID
		}
	})
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

// validationDetails maps each failing field to the tag that rejected it.
func validationDetails(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}

	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[fieldErr.Namespace()] = fieldErr.Tag()
	}
	return details
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// internalErrorDetails exposes where the error was raised, outside production
// only. The innermost recorded stack wins; errors without one fall back to
// their message chain.
func internalErrorDetails(err error, production bool) interface{} {
	if production || err == nil {
		return nil
	}

	var origin stackTracer
	chain := make([]string, 0, 4)
	for current := err; current != nil; current = errors.Unwrap(current) {
		if traced, ok := current.(stackTracer); ok {
			origin = traced
		}
		chain = append(chain, current.Error())
	}

	if origin == nil {
		return fiber.Map{"stack": strings.Join(chain, "\n")}
	}
	return fiber.Map{"stack": strings.TrimSpace(fmt.Sprintf("%+v", origin.StackTrace()))}
}
