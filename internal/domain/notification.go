package domain

import "time"

const (
	DefaultNotificationType     = "info"
	DefaultNotificationPriority = "normal"
)

// NotificationRecord is one notification held by a notification partition.
// A record without UserID is a broadcast.
type NotificationRecord struct {
	ID           string     `json:"id"`
	Message      string     `json:"message"`
	Type         string     `json:"type"`
	Priority     string     `json:"priority"`
	RestaurantID string     `json:"restaurantId,omitempty"`
	UserID       string     `json:"userId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	Read         bool       `json:"read"`
	ReadAt       *time.Time `json:"readAt,omitempty"`
}

func (n *NotificationRecord) IsBroadcast() bool {
	return n.UserID == ""
}

type BroadcastRequest struct {
	Message      string `json:"message" validate:"required"`
	Type         string `json:"type,omitempty"`
	Priority     string `json:"priority,omitempty"`
	RestaurantID string `json:"restaurantId,omitempty"`
}

type TargetedRequest struct {
	UserID       string `json:"userId" validate:"required"`
	RestaurantID string `json:"restaurantId,omitempty"`
	Message      string `json:"message" validate:"required"`
	Type         string `json:"type,omitempty"`
	Priority     string `json:"priority,omitempty"`
}
