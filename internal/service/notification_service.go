package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/dto"
	"github.com/noah-isme/gema-lms-api/internal/models"
	"github.com/noah-isme/gema-lms-api/internal/observability"
	"github.com/noah-isme/gema-lms-api/internal/repository"
	"github.com/noah-isme/gema-lms-api/pkg/mailer"
)

const notificationBufferSize = 16

var (
	// ErrNotificationNotFound indicates the notification does not exist for the user.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrNotificationUserRequired indicates an inbox call without a user.
	ErrNotificationUserRequired = errors.New("user id is required")
)

// inboxTypes are always reported by UnreadCount, even at zero.
var inboxTypes = []string{models.NotificationTypeCourseCompleted, models.NotificationTypeCertificateIssued}

// EmailSender delivers a rendered message to a single recipient.
type EmailSender interface {
	Send(ctx context.Context, toEmail, toName, subject, htmlBody string) error
}

// CompletionNotifier informs learners about course completion milestones.
type CompletionNotifier interface {
	NotifyCourseCompleted(ctx context.Context, userID, courseID, courseTitle string, score, maxScore int) error
	NotifyCertificateIssued(ctx context.Context, userID, courseID, courseTitle, certificateNumber string) error
}

// NotificationService publishes and streams notifications to end users via SSE.
type NotificationService interface {
	CompletionNotifier
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
	List(ctx context.Context, userID string, query dto.NotificationListQuery) (dto.NotificationListResponse, error)
	UnreadCount(ctx context.Context, userID string) (dto.NotificationUnreadCount, error)
	MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, userID, notificationType string) (dto.NotificationMarkAllResponse, error)
	Subscribe(userID string) (<-chan dto.NotificationResponse, func())
	Start(ctx context.Context)
}

type notificationService struct {
	repo        repository.NotificationRepository
	users       repository.UserRepository
	mailer      EmailSender
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	broker      *notificationBroker
	nodeID      string
}

type notificationEvent struct {
	Source       string                   `json:"source"`
	Notification dto.NotificationResponse `json:"notification"`
	SentAt       time.Time                `json:"sent_at"`
}

type notificationBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.NotificationResponse]struct{}
}

// NotificationOptions carries the optional delivery channels of the service.
type NotificationOptions struct {
	Redis       *redis.Client
	NATS        *nats.Conn
	ChannelBase string
	Users       repository.UserRepository
	Mailer      EmailSender
}

// NewNotificationService constructs a notification service. Every channel in
// opts may be left empty; notifications are then only stored and streamed to
// subscribers of this node.
func NewNotificationService(repo repository.NotificationRepository, opts NotificationOptions, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	channelBase := opts.ChannelBase
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":notifications"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".notifications"
	}

	return &notificationService{
		repo:        repo,
		users:       opts.Users,
		mailer:      opts.Mailer,
		redis:       opts.Redis,
		redisStream: stream,
		nats:        opts.NATS,
		natsSubject: subject,
		validator:   validate,
		logger:      logger.With().Str("component", "notification_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-lms-api/internal/service/notification"),
		sanitizer:   bluemonday.StrictPolicy(),
		broker: &notificationBroker{
			subscribers: make(map[string]map[chan dto.NotificationResponse]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (s *notificationService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *notificationService) Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, err
	}

	cleanMessage := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if cleanMessage == "" {
		return dto.NotificationResponse{}, errors.New("notification message empty after sanitization")
	}
	cleanTitle := strings.TrimSpace(s.sanitizer.Sanitize(payload.Title))

	attrs := []attribute.KeyValue{
		attribute.String("notification.user_id", payload.UserID),
		attribute.String("notification.type", payload.Type),
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.publish", trace.WithAttributes(attrs...))
	defer span.End()

	model := models.Notification{
		UserID:   payload.UserID,
		Type:     payload.Type,
		Title:    cleanTitle,
		Message:  cleanMessage,
		Metadata: payload.Metadata,
	}

	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "notification_create_failed")
		observability.NotificationFailures().WithLabelValues(payload.Type).Inc()
		return dto.NotificationResponse{}, err
	}

	response := dto.NewNotificationResponse(model)
	s.broadcast(response)
	if err := s.publish(spanCtx, response); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish notification to broker")
	}

	observability.NotificationsPublishedTotal().WithLabelValues(response.Type).Inc()

	return response, nil
}

func (s *notificationService) NotifyCourseCompleted(ctx context.Context, userID, courseID, courseTitle string, score, maxScore int) error {
	title := "Course completed"
	message := fmt.Sprintf("You completed %s with a score of %d/%d.", courseTitle, score, maxScore)

	_, err := s.Publish(ctx, dto.NotificationCreateRequest{
		UserID:  userID,
		Type:    models.NotificationTypeCourseCompleted,
		Title:   title,
		Message: message,
		Metadata: map[string]interface{}{
			"course_id": courseID,
			"score":     score,
			"max_score": maxScore,
		},
	})
	if err != nil {
		return err
	}

	s.sendEmail(ctx, userID, models.NotificationTypeCourseCompleted, title, message)
	return nil
}

func (s *notificationService) NotifyCertificateIssued(ctx context.Context, userID, courseID, courseTitle, certificateNumber string) error {
	title := "Certificate issued"
	message := fmt.Sprintf("Your certificate %s for %s is ready.", certificateNumber, courseTitle)

	_, err := s.Publish(ctx, dto.NotificationCreateRequest{
		UserID:  userID,
		Type:    models.NotificationTypeCertificateIssued,
		Title:   title,
		Message: message,
		Metadata: map[string]interface{}{
			"course_id":          courseID,
			"certificate_number": certificateNumber,
		},
	})
	if err != nil {
		return err
	}

	s.sendEmail(ctx, userID, models.NotificationTypeCertificateIssued, title, message)
	return nil
}

// sendEmail mirrors an in-app notification to the learner's inbox when a
// mailer is configured. Failures are only logged.
func (s *notificationService) sendEmail(ctx context.Context, userID, notificationType, subject, message string) {
	if s.mailer == nil || s.users == nil {
		return
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to load notification recipient")
		}
		return
	}
	if strings.TrimSpace(user.Email) == "" {
		return
	}

	body := "<p>" + s.sanitizer.Sanitize(message) + "</p>"
	if err := s.mailer.Send(ctx, user.Email, user.Name, subject, body); err != nil {
		observability.NotificationFailures().WithLabelValues(notificationType).Inc()
		s.logger.Warn().Err(err).Str("user_id", userID).Str("recipient", mailer.MaskAddress(user.Email)).Str("type", notificationType).Msg("failed to email notification")
	}
}

func (s *notificationService) List(ctx context.Context, userID string, query dto.NotificationListQuery) (dto.NotificationListResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return dto.NotificationListResponse{}, ErrNotificationUserRequired
	}
	if err := s.validator.Struct(query); err != nil {
		return dto.NotificationListResponse{}, err
	}

	notifications, err := s.repo.ListByUser(ctx, userID, repository.NotificationFilter{
		Type:       query.Type,
		UnreadOnly: query.UnreadOnly,
		Limit:      query.Limit,
		Offset:     query.Offset,
	})
	if err != nil {
		return dto.NotificationListResponse{}, err
	}

	unread, err := s.repo.CountUnread(ctx, userID, query.Type)
	if err != nil {
		return dto.NotificationListResponse{}, err
	}

	return dto.NotificationListResponse{
		Items:  dto.NewNotificationResponseSlice(notifications),
		Unread: unread,
	}, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (dto.NotificationUnreadCount, error) {
	if strings.TrimSpace(userID) == "" {
		return dto.NotificationUnreadCount{}, ErrNotificationUserRequired
	}

	counts, err := s.repo.UnreadByType(ctx, userID)
	if err != nil {
		return dto.NotificationUnreadCount{}, err
	}

	result := dto.NotificationUnreadCount{ByType: make(map[string]int64, len(inboxTypes)+len(counts))}
	for _, notificationType := range inboxTypes {
		result.ByType[notificationType] = 0
	}
	for notificationType, count := range counts {
		result.ByType[notificationType] = count
		result.Total += count
	}
	return result, nil
}

func (s *notificationService) MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error) {
	attrs := []attribute.KeyValue{
		attribute.String("notification.user_id", userID),
	}
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(attrs...))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID, notificationType string) (dto.NotificationMarkAllResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return dto.NotificationMarkAllResponse{}, ErrNotificationUserRequired
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_all_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
		attribute.String("notification.type", notificationType),
	))
	defer span.End()

	updated, err := s.repo.MarkAllRead(spanCtx, userID, notificationType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark_all_read_failed")
		return dto.NotificationMarkAllResponse{}, err
	}

	return dto.NotificationMarkAllResponse{Updated: updated}, nil
}

func (s *notificationService) Subscribe(userID string) (<-chan dto.NotificationResponse, func()) {
	channel := make(chan dto.NotificationResponse, notificationBufferSize)

	s.broker.subscribe(userID, channel)
	observability.SSEClientsActive().Inc()

	cleanup := func() {
		s.broker.unsubscribe(userID, channel)
		observability.SSEClientsActive().Dec()
	}

	return channel, cleanup
}

func (s *notificationService) broadcast(notification dto.NotificationResponse) {
	s.broker.broadcast(notification.UserID, notification)
}

func (s *notificationService) publish(ctx context.Context, notification dto.NotificationResponse) error {
	event := notificationEvent{
		Source:       s.nodeID,
		Notification: notification,
		SentAt:       time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *notificationService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("notification redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *notificationService) consumeNATS(ctx context.Context) {
	// Every node needs every event, so no queue group. Own events are dropped in handleEvent.
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats notifications subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain notification nats subscription")
		}
	}()
}

func (s *notificationService) handleEvent(payload []byte) {
	var event notificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid notification event payload")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	notification := event.Notification
	if notification.Type == "" {
		notification.Type = "generic"
	}

	observability.NotificationsPublishedTotal().WithLabelValues(notification.Type).Inc()
	s.broadcast(notification)
}

func (b *notificationBroker) subscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[userID]; !exists {
		b.subscribers[userID] = make(map[chan dto.NotificationResponse]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
}

func (b *notificationBroker) unsubscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[userID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *notificationBroker) broadcast(userID string, notification dto.NotificationResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := b.subscribers[userID]
	for ch := range subscribers {
		select {
		case ch <- notification:
		default:
		}
	}
}
