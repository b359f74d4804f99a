package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lms-api/internal/dto"
	"github.com/noah-isme/gema-lms-api/internal/service"
	"github.com/noah-isme/gema-lms-api/internal/utils"
)

// NotificationHandler serves the learner inbox: completion and certificate
// notices, their unread badge, and the live SSE feed.
type NotificationHandler struct {
	service service.NotificationService
	logger  zerolog.Logger
	timeout time.Duration
}

// NewNotificationHandler constructs a handler instance.
func NewNotificationHandler(service service.NotificationService, logger zerolog.Logger, timeout time.Duration) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("component", "notification_handler").Logger(),
		timeout: timeout,
	}
}

// Register binds the notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Get("/unread-count", h.unreadCount)
	router.Get("/stream", h.stream)
	router.Post("/read-all", h.markAllRead)
	router.Patch("/:id/read", h.markRead)
}

func (h *NotificationHandler) list(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var query dto.NotificationListQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid notification query")
	}
	query.Type = strings.TrimSpace(query.Type)

	inbox, err := h.service.List(requestContext(c), userID, query)
	if err != nil {
		if isValidationError(err) {
			return utils.Fail(c, fiber.StatusBadRequest, "invalid notification query", validationDetails(err))
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list notifications")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list notifications")
	}

	return utils.SendSuccess(c, "notifications", inbox)
}

func (h *NotificationHandler) unreadCount(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	counts, err := h.service.UnreadCount(requestContext(c), userID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to count unread notifications")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to count notifications")
	}

	return utils.SendSuccess(c, "unread notifications", counts)
}

func (h *NotificationHandler) markAllRead(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	result, err := h.service.MarkAllRead(requestContext(c), userID, strings.TrimSpace(c.Query("type")))
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to mark notifications read")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to update notifications")
	}

	return utils.SendSuccess(c, "notifications updated", result)
}

// stream pushes the unread badge on connect and after every delivered
// notification. ?type= restricts the feed to one notification type.
func (h *NotificationHandler) stream(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}
	notificationType := strings.TrimSpace(c.Query("type"))

	ctx, cancel := context.WithCancel(requestContext(c))
	counts, err := h.service.UnreadCount(ctx, userID)
	if err != nil {
		cancel()
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to open notification stream")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to open notification stream")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	feed, cleanup := h.service.Subscribe(userID)
	logger := *requestLogger(h.logger, c)

	keepAliveInterval := h.timeout
	if keepAliveInterval <= 0 {
		keepAliveInterval = 30 * time.Second
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		ticker := time.NewTicker(keepAliveInterval / 2)
		defer ticker.Stop()

		if err := writeSSEEvent(w, "unread", counts); err != nil {
			return
		}

		for {
			select {
			case notification, ok := <-feed:
				if !ok {
					return
				}
				if notificationType != "" && notification.Type != notificationType {
					continue
				}
				if err := writeSSEEvent(w, "notification", notification); err != nil {
					logger.Debug().Err(err).Msg("failed to write notification event")
					return
				}
				counts, err := h.service.UnreadCount(ctx, userID)
				if err != nil {
					logger.Warn().Err(err).Msg("failed to refresh unread count")
					continue
				}
				if err := writeSSEEvent(w, "unread", counts); err != nil {
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					logger.Debug().Err(err).Msg("failed to write notification keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func (h *NotificationHandler) markRead(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	parsed, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || parsed == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid notification id")
	}

	notification, err := h.service.MarkRead(requestContext(c), uint(parsed), userID)
	if err != nil {
		if errors.Is(err, service.ErrNotificationNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "notification not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to mark notification read")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to update notification")
	}

	return utils.SendSuccess(c, "notification updated", notification)
}

func writeSSEEvent(w *bufio.Writer, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
