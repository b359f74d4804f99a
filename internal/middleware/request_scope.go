package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CorrelationHeader carries the request identifier in and out of the API.
const CorrelationHeader = "X-Correlation-ID"

const (
	scopeLocalsKey         = "request_scope"
	maxCorrelationIDLength = 64
)

// RequestScope identifies a request and the learner activity it touches.
// Handlers fill in the quiz and attempt once they resolve them, so the access
// log line and the handler logs carry the same fields.
type RequestScope struct {
	CorrelationID string
	LearnerID     string
	QuizID        string
	AttemptID     string
}

type scopeKey struct{}

// Scope opens a RequestScope for every request. An incoming X-Correlation-ID or
// X-Request-ID is reused only when it is a short plain token.
func Scope() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope := &RequestScope{CorrelationID: incomingCorrelationID(c)}

		c.Locals(scopeLocalsKey, scope)
		c.Set(CorrelationHeader, scope.CorrelationID)
		c.SetUserContext(context.WithValue(c.UserContext(), scopeKey{}, scope))

		return c.Next()
	}
}

// ScopeOf returns a snapshot of the active request scope. The learner falls
// back to the authenticated user when no handler has set it.
func ScopeOf(c *fiber.Ctx) RequestScope {
	if c == nil {
		return RequestScope{}
	}

	var resolved RequestScope
	if scope, ok := c.Locals(scopeLocalsKey).(*RequestScope); ok && scope != nil {
		resolved = *scope
	}
	if resolved.LearnerID == "" {
		if userID, ok := c.Locals("user_id").(string); ok {
			resolved.LearnerID = strings.TrimSpace(userID)
		}
	}
	return resolved
}

// Annotate records learner activity on the active request scope. It is a no-op
// when Scope is not installed.
func Annotate(c *fiber.Ctx, update func(*RequestScope)) {
	if c == nil || update == nil {
		return
	}
	if scope, ok := c.Locals(scopeLocalsKey).(*RequestScope); ok && scope != nil {
		update(scope)
	}
}

// ScopeFromContext returns the scope carried by ctx.
func ScopeFromContext(ctx context.Context) (RequestScope, bool) {
	if ctx == nil {
		return RequestScope{}, false
	}
	scope, ok := ctx.Value(scopeKey{}).(*RequestScope)
	if !ok || scope == nil {
		return RequestScope{}, false
	}
	return *scope, true
}

// ContextWithScope attaches a copy of scope to ctx.
func ContextWithScope(ctx context.Context, scope RequestScope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{}, &scope)
}

// Fields adds the identifiers that are set to a logger context.
func (s RequestScope) Fields(ctx zerolog.Context) zerolog.Context {
	if s.CorrelationID != "" {
		ctx = ctx.Str("correlation_id", s.CorrelationID)
	}
	if s.LearnerID != "" {
		ctx = ctx.Str("learner_id", s.LearnerID)
	}
	if s.QuizID != "" {
		ctx = ctx.Str("quiz_id", s.QuizID)
	}
	if s.AttemptID != "" {
		ctx = ctx.Str("attempt_id", s.AttemptID)
	}
	return ctx
}

func incomingCorrelationID(c *fiber.Ctx) string {
	for _, header := range []string{CorrelationHeader, fiber.HeaderXRequestID} {
		if value := strings.TrimSpace(c.Get(header)); validCorrelationID(value) {
			return value
		}
	}
	return uuid.NewString()
}

// validCorrelationID accepts ids that are safe to echo into headers and logs.
func validCorrelationID(value string) bool {
	if value == "" || len(value) > maxCorrelationIDLength {
		return false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ':':
		default:
			return false
		}
	}
	return true
}
