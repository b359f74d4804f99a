package dto

import (
	"time"

	"github.com/noah-isme/gema-lms-api/internal/models"
)

// NotificationCreateRequest describes the payload to create a notification.
type NotificationCreateRequest struct {
	UserID   string                 `json:"user_id" validate:"required,max=64"`
	Type     string                 `json:"type" validate:"required,max=64"`
	Title    string                 `json:"title" validate:"required,max=255"`
	Message  string                 `json:"message" validate:"required,min=1,max=2000"`
	Metadata map[string]interface{} `json:"metadata"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID        uint                   `json:"id"`
	UserID    string                 `json:"user_id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Read      bool                   `json:"read"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NotificationListQuery filters a learner inbox page.
type NotificationListQuery struct {
	Type       string `query:"type" validate:"omitempty,max=64"`
	UnreadOnly bool   `query:"unread"`
	Limit      int    `query:"limit" validate:"gte=0,lte=100"`
	Offset     int    `query:"offset" validate:"gte=0"`
}

// NotificationListResponse wraps a page of notifications with the unread
// counter of the same type filter.
type NotificationListResponse struct {
	Items  []NotificationResponse `json:"items"`
	Unread int64                  `json:"unread"`
}

// NotificationUnreadCount is the inbox badge: the unread total and its split
// by notification type.
type NotificationUnreadCount struct {
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"by_type"`
}

// NotificationMarkAllResponse reports how many notifications were marked read.
type NotificationMarkAllResponse struct {
	Updated int64 `json:"updated"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		Type:      model.Type,
		Title:     model.Title,
		Message:   model.Message,
		Read:      model.Read,
		Metadata:  map[string]interface{}(model.Metadata),
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}
