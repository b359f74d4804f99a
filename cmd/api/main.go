package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/config"
	"github.com/noah-isme/gema-lms-api/internal/database"
	"github.com/noah-isme/gema-lms-api/internal/handler"
	"github.com/noah-isme/gema-lms-api/internal/middleware"
	"github.com/noah-isme/gema-lms-api/internal/repository"
	"github.com/noah-isme/gema-lms-api/internal/router"
	"github.com/noah-isme/gema-lms-api/internal/service"
	cloud "github.com/noah-isme/gema-lms-api/pkg/cloudinary"
	"github.com/noah-isme/gema-lms-api/pkg/mailer"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if !cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	logger = logger.With().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis not configured, quiz cache and cross-node notifications disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
	}

	var uploader service.DocumentUploader
	if cfg.CloudinaryEnabled() {
		cld, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		uploader = cld
	} else {
		logger.Warn().Msg("cloudinary not configured, certificate documents will not be published")
	}

	var emailSender service.EmailSender
	if cfg.SendgridAPIKey != "" {
		sg, err := mailer.NewSendGrid(mailer.Config{
			APIKey:        cfg.SendgridAPIKey,
			FromAddress:   cfg.MailFromAddress,
			FromName:      cfg.MailFromName,
			SubjectPrefix: "[" + cfg.AppName + "] ",
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create sendgrid mailer")
		}
		emailSender = sg
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	store := repository.NewStore(db)
	userRepo := repository.NewUserRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	catalog := service.NewQuizCatalog(store.Quizzes(), store.Courses(), redisClient, cfg.QuizCacheTTL, logger)
	certificateService := service.NewCertificateService(store.Certificates(), userRepo, uploader, logger)
	notificationService := service.NewNotificationService(notificationRepo, service.NotificationOptions{
		Redis:       redisClient,
		NATS:        natsConn,
		ChannelBase: cfg.NotificationChannel,
		Users:       userRepo,
		Mailer:      emailSender,
	}, validate, logger)
	submissionService := service.NewQuizSubmissionService(store, catalog, certificateService, notificationService, validate, logger)
	attemptService := service.NewQuizAttemptService(store.Attempts(), store.Enrollments(), catalog, logger)

	quizHandler := handler.NewQuizHandler(submissionService, attemptService, logger, handler.QuizHandlerOptions{
		Production:  cfg.IsProduction(),
		SubmitGuard: middleware.RateLimit("quiz_submit", cfg.SubmitRateLimit, cfg.SubmitRateWindow),
	})
	certificateHandler := handler.NewCertificateHandler(certificateService, logger)
	notificationHandler := handler.NewNotificationHandler(notificationService, logger, cfg.NotificationKeepAlive)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:           &logger,
		EnableStackTrace: !cfg.IsProduction(),
	})
	router.Register(app, cfg, router.Dependencies{
		QuizHandler:         quizHandler,
		CertificateHandler:  certificateHandler,
		NotificationHandler: notificationHandler,
		HealthChecks:        healthChecks(db, redisClient, natsConn),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	consumerCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()
	notificationService.Start(consumerCtx)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)
}

func healthChecks(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) []handler.DependencyCheck {
	checks := []handler.DependencyCheck{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}

	if redisClient != nil {
		checks = append(checks, handler.DependencyCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}

	if natsConn != nil {
		checks = append(checks, handler.DependencyCheck{
			Name: "nats",
			Check: func(context.Context) error {
				if !natsConn.IsConnected() {
					return nats.ErrConnectionClosed
				}
				return nil
			},
		})
	}

	return checks
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
