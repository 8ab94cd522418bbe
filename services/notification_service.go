package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepDuelAPI/internal/store"
	"stepDuelAPI/internal/types/challenge"
	"stepDuelAPI/internal/types/notification"
)

// PushNotificationProvider is implemented by internal/notification.FCMService
// and injected from main.go.
type PushNotificationProvider interface {
	SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error
}

// NotificationService records duel events and hands them to the dispatcher
// for push delivery. It also implements DuelNotifier for the rivalry engine.
type NotificationService struct {
	db         *pgxpool.Pool
	profiles   store.ProfileLookup
	dispatcher *NotificationDispatcher
}

func NewNotificationService(db *pgxpool.Pool, profiles store.ProfileLookup) *NotificationService {
	service := &NotificationService{
		db:       db,
		profiles: profiles,
	}
	service.dispatcher = NewNotificationDispatcher(service)
	return service
}

func (s *NotificationService) SetPushProvider(provider PushNotificationProvider) {
	s.dispatcher.SetPushProvider(provider)
}

// DuelStarted notifies the lobby owner that an opponent joined.
func (s *NotificationService) DuelStarted(ctx context.Context, c *challenge.Challenge) {
	if c.OpponentID == nil {
		return
	}

	opponentName := s.displayName(ctx, *c.OpponentID)
	s.create(ctx, c.ChallengerID, notification.NotificationDuelStarted,
		"Duel started!",
		fmt.Sprintf("%s joined your challenge. Game on!", opponentName),
		map[string]any{"challenge_id": c.ID.String()},
	)
}

// DuelFinished notifies both participants of the outcome. A draw sends the
// defeat-free variant to both sides.
func (s *NotificationService) DuelFinished(ctx context.Context, c *challenge.Challenge) {
	participants := []string{c.ChallengerID}
	if c.OpponentID != nil {
		participants = append(participants, *c.OpponentID)
	}

	for _, userID := range participants {
		if c.WinnerID != nil && *c.WinnerID == userID {
			s.create(ctx, userID, notification.NotificationDuelWon,
				"Victory!", "You won the duel. Great job!",
				map[string]any{"challenge_id": c.ID.String()})
		} else if c.WinnerID != nil {
			s.create(ctx, userID, notification.NotificationDuelLost,
				"Duel over", "Your rival took this one. Rematch?",
				map[string]any{"challenge_id": c.ID.String()})
		} else {
			s.create(ctx, userID, notification.NotificationDuelLost,
				"Duel over", "Dead even. Nobody takes the win this time.",
				map[string]any{"challenge_id": c.ID.String()})
		}
	}
}

func (s *NotificationService) displayName(ctx context.Context, userID string) string {
	profiles, err := s.profiles.GetMany(ctx, []string{userID})
	if err != nil {
		log.Printf("Notification: profile lookup for %s failed: %v", userID, err)
		return "Someone"
	}
	if p, ok := profiles[userID]; ok {
		return p.DisplayName()
	}
	return "Someone"
}

// create stores the notification and queues it for push. Failures are logged
// and swallowed: notifications must never fail a lifecycle transition.
func (s *NotificationService) create(ctx context.Context, userID string, notifType notification.NotificationType, title, body string, data map[string]any) {
	dataJSON, _ := json.Marshal(data)

	notif := &notification.Notification{}
	var dataStr []byte
	err := s.db.QueryRow(ctx, `
		INSERT INTO notifications (user_id, type, title, body, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, type, title, body, is_read, data, created_at`,
		userID, notifType, title, body, dataJSON,
	).Scan(&notif.ID, &notif.UserID, &notif.Type, &notif.Title, &notif.Body,
		&notif.IsRead, &dataStr, &notif.CreatedAt)
	if err != nil {
		log.Printf("Notification: failed to store %s for %s: %v", notifType, userID, err)
		return
	}
	_ = json.Unmarshal(dataStr, &notif.Data)

	s.dispatcher.Dispatch(notif)
}

func (s *NotificationService) GetNotifications(ctx context.Context, userID string, limit int) (*notification.NotificationListResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, type, title, body, is_read, data, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*notification.Notification
	for rows.Next() {
		n := &notification.Notification{}
		var dataStr []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.IsRead, &dataStr, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		_ = json.Unmarshal(dataStr, &n.Data)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var unread int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = false`,
		userID).Scan(&unread); err != nil {
		return nil, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return &notification.NotificationListResponse{
		Notifications: notifications,
		UnreadCount:   unread,
	}, nil
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE notifications SET is_read = true WHERE user_id = $1 AND is_read = false`, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}

func (s *NotificationService) MarkAsRead(ctx context.Context, userID string, notificationID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`,
		notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *NotificationService) RegisterDevice(ctx context.Context, userID string, req notification.RegisterDeviceRequest) error {
	if req.Token == "" {
		return fmt.Errorf("device token is required")
	}
	if req.Platform != "ios" && req.Platform != "android" && req.Platform != "web" {
		return fmt.Errorf("unknown platform %q", req.Platform)
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO device_tokens (user_id, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET user_id = $1, platform = $3`,
		userID, req.Token, req.Platform)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

func (s *NotificationService) deviceTokens(ctx context.Context, userID string) ([]notification.DeviceToken, error) {
	rows, err := s.db.Query(ctx,
		`SELECT token, platform FROM device_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []notification.DeviceToken
	for rows.Next() {
		var t notification.DeviceToken
		if err := rows.Scan(&t.Token, &t.Platform); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Close drains the dispatcher. Called during graceful shutdown.
func (s *NotificationService) Close() {
	s.dispatcher.Stop()
}
