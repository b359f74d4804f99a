package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-lms-api/internal/config"
	"github.com/noah-isme/gema-lms-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Service      string            `json:"service"`
	Environment  string            `json:"environment"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// DependencyCheck reports whether a backing service is reachable.
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthCheck returns a handler that reports application health information.
// Any failing dependency turns the response into a 503.
func HealthCheck(cfg config.Config, checks ...DependencyCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		if len(checks) > 0 {
			ctx, cancel := context.WithTimeout(requestContext(c), 2*time.Second)
			defer cancel()

			payload.Dependencies = make(map[string]string, len(checks))
			for _, check := range checks {
				if err := check.Check(ctx); err != nil {
					payload.Status = "degraded"
					payload.Dependencies[check.Name] = err.Error()
					continue
				}
				payload.Dependencies[check.Name] = "ok"
			}
		}

		if payload.Status != "ok" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(utils.APIResponse{
				Success: false,
				Data:    payload,
				Message: "service degraded",
			})
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}
