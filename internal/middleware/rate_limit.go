package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-lms-api/internal/utils"
)

// RateLimit creates a per-user rate limiter. Anonymous callers are keyed by IP.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			userID := ""
			if value := c.Locals("user_id"); value != nil {
				userID = fmt.Sprint(value)
			}
			if userID == "" {
				userID = "ip:" + c.IP()
			}
			return fmt.Sprintf("%s:%s", identifier, userID)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.Fail(c, fiber.StatusTooManyRequests, "too many requests", nil)
		},
	})
}
