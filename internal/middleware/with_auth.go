package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-lms-api/internal/utils"
)

// Auth role constants used by WithAuth helper.
const (
	AuthRoleAny        = "any"
	AuthRoleLearner    = "learner"
	AuthRoleInstructor = "instructor"
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a handler with authentication and role guards. Instructors
// pass learner guards so they can preview quizzes.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	requireUser := opts.RequireUser
	if !requireUser && role != AuthRoleAny {
		requireUser = true
	}

	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(fmt.Sprint(c.Locals("user_id")))
		authenticated := c.Locals("user_id") != nil && userID != ""
		if requireUser && !authenticated {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		if role == AuthRoleAny {
			return handler(c)
		}

		currentRole := normalizeRoleValue(c.Locals("user_role"))
		switch role {
		case AuthRoleLearner:
			// tokens without a role belong to learners
			if currentRole != "" && currentRole != AuthRoleLearner && currentRole != AuthRoleInstructor && currentRole != "admin" {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
			}
		case AuthRoleInstructor:
			if currentRole != AuthRoleInstructor && currentRole != "admin" {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
			}
		default:
			if currentRole != role {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
			}
		}

		return handler(c)
	}
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		if value == nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
