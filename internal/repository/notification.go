package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	defer logger.DeferLogDuration("notif.Create", time.Now())()
	var data []byte
	if n.Data != nil {
		var err error
		data, err = json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("notifRepo.Create marshal: %w", err)
		}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, body, action_url, read, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, n.ActionURL, n.Read, data, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.Create: %w", err)
	}
	return nil
}

// ListUnread returns the newest unread notifications for a user.
func (r *NotificationRepository) ListUnread(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notif.ListUnread", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, title, body, action_url, read, data, created_at
		 FROM notifications
		 WHERE user_id = $1 AND read = false
		 ORDER BY created_at DESC
		 LIMIT $2`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("notifRepo.ListUnread query: %w", err)
	}
	defer rows.Close()

	notifs := make([]model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		var data []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.ActionURL, &n.Read, &data, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notifRepo.ListUnread scan: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("notifRepo.ListUnread data: %w", err)
			}
		}
		notifs = append(notifs, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifRepo.ListUnread rows: %w", err)
	}
	return notifs, nil
}
