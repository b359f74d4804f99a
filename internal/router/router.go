package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-lms-api/internal/config"
	"github.com/noah-isme/gema-lms-api/internal/handler"
	"github.com/noah-isme/gema-lms-api/internal/middleware"
	"github.com/noah-isme/gema-lms-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	QuizHandler         *handler.QuizHandler
	CertificateHandler  *handler.CertificateHandler
	NotificationHandler *handler.NotificationHandler
	HealthChecks        []handler.DependencyCheck
	JWTMiddleware       fiber.Handler
	// DisableMetrics skips mounting /metrics.
	DisableMetrics bool
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & public lookups
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthChecks...))

	if !deps.DisableMetrics {
		app.Get("/metrics", observability.MetricsHandler())
	}

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	learnerOnly := middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.Next()
	}, middleware.AuthOptions{Role: middleware.AuthRoleLearner})
	authenticated := middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.Next()
	}, middleware.AuthOptions{RequireUser: true})

	if deps.QuizHandler != nil {
		quizzes := app.Group("/api/v2/quizzes", jwtMiddleware, learnerOnly)
		deps.QuizHandler.Register(quizzes)
	}

	if deps.CertificateHandler != nil {
		deps.CertificateHandler.RegisterPublic(api.Group("/certificates"))

		certificates := app.Group("/api/v2/certificates", jwtMiddleware, authenticated)
		deps.CertificateHandler.Register(certificates)
	}

	if deps.NotificationHandler != nil {
		notifications := app.Group("/api/v2/notifications", jwtMiddleware, authenticated)
		deps.NotificationHandler.Register(notifications)
	}
}
