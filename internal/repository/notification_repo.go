package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/models"
)

// NotificationFilter narrows a learner inbox listing. An empty Type matches
// every kind.
type NotificationFilter struct {
	Type       string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationRepository handles persistence for notification entities.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, filter NotificationFilter) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID, notificationType string) (int64, error)
	UnreadByType(ctx context.Context, userID string) (map[string]int64, error)
	MarkRead(ctx context.Context, id uint, userID string) (models.Notification, error)
	MarkAllRead(ctx context.Context, userID, notificationType string) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, filter NotificationFilter) ([]models.Notification, error) {
	limit, offset := filter.Limit, filter.Offset
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := r.inbox(ctx, userID, filter.Type)
	if filter.UnreadOnly {
		query = query.Where("read = ?", false)
	}

	var notifications []models.Notification
	if err := query.
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&notifications).Error; err != nil {
		return nil, err
	}

	return notifications, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID, notificationType string) (int64, error) {
	var total int64
	err := r.inbox(ctx, userID, notificationType).
		Where("read = ?", false).
		Count(&total).Error
	return total, err
}

// UnreadByType counts unread notifications per type. Types without unread
// entries are absent.
func (r *notificationRepository) UnreadByType(ctx context.Context, userID string) (map[string]int64, error) {
	var rows []struct {
		Type  string
		Total int64
	}
	if err := r.inbox(ctx, userID, "").
		Select("type, COUNT(*) AS total").
		Where("read = ?", false).
		Group("type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Type] = row.Total
	}
	return counts, nil
}

// MarkRead flags the notification as read when it belongs to userID.
func (r *notificationRepository) MarkRead(ctx context.Context, id uint, userID string) (models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&notification).Error; err != nil {
		return models.Notification{}, err
	}

	if notification.Read {
		return notification, nil
	}

	if err := r.db.WithContext(ctx).Model(&notification).Update("read", true).Error; err != nil {
		return models.Notification{}, err
	}
	notification.Read = true

	return notification, nil
}

// MarkAllRead flags every unread notification of userID, optionally of one
// type, and reports how many changed.
func (r *notificationRepository) MarkAllRead(ctx context.Context, userID, notificationType string) (int64, error) {
	result := r.inbox(ctx, userID, notificationType).
		Where("read = ?", false).
		Update("read", true)
	return result.RowsAffected, result.Error
}

func (r *notificationRepository) inbox(ctx context.Context, userID, notificationType string) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if notificationType = strings.TrimSpace(notificationType); notificationType != "" {
		query = query.Where("type = ?", notificationType)
	}
	return query
}
