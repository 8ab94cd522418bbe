package notification

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationDuelStarted NotificationType = "duel_started"
	NotificationDuelWon     NotificationType = "duel_won"
	NotificationDuelLost    NotificationType = "duel_lost"
	NotificationDuelInvite  NotificationType = "duel_invite"
)

type Notification struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	UserID    string           `json:"user_id" db:"user_id"`
	Type      NotificationType `json:"type" db:"type"`
	Title     string           `json:"title" db:"title"`
	Body      string           `json:"body" db:"body"`
	IsRead    bool             `json:"is_read" db:"is_read"`
	Data      map[string]any   `json:"data" db:"data"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

type DeviceToken struct {
	Token    string `json:"token" db:"token"`
	Platform string `json:"platform" db:"platform"`
}

type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

type NotificationListResponse struct {
	Notifications []*Notification `json:"notifications"`
	UnreadCount   int             `json:"unread_count"`
}
