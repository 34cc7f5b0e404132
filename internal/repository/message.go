package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

var ErrNotFound = errors.New("not found")

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.ChatMessage) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, recipient_id, text, image_url, voice_url, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ChatID, m.SenderID, m.RecipientID, m.Text, m.ImageURL, m.VoiceURL, m.Read, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.ChatMessage, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.ChatMessage{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, chat_id, sender_id, recipient_id, text, image_url, voice_url, read, created_at
		 FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.RecipientID, &m.Text, &m.ImageURL, &m.VoiceURL, &m.Read, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListChat returns messages in a chat, newest first. Clients order by
// created_at when rendering; socket arrival order carries no guarantee.
func (r *MessageRepository) ListChat(ctx context.Context, chatID string, limit, offset int) ([]model.ChatMessage, error) {
	defer logger.DeferLogDuration("msg.ListChat", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, chat_id, sender_id, recipient_id, text, image_url, voice_url, read, created_at
		 FROM messages
		 WHERE chat_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, chatID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListChat query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.ChatMessage, 0, limit)
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.RecipientID, &m.Text, &m.ImageURL, &m.VoiceURL, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListChat scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListChat rows: %w", err)
	}
	return messages, nil
}

// MarkChatRead flips every unread message addressed to recipientID in the
// chat. Re-running it is a no-op, so receipts may be re-sent freely.
func (r *MessageRepository) MarkChatRead(ctx context.Context, chatID, recipientID string) error {
	defer logger.DeferLogDuration("msg.MarkChatRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET read = true
		 WHERE chat_id = $1 AND recipient_id = $2 AND read = false`,
		chatID, recipientID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkChatRead: %w", err)
	}
	return nil
}

// CountUnread returns the number of unread messages addressed to recipientID
// in the chat. Used by reconciliation tooling, not by the relay hot path.
func (r *MessageRepository) CountUnread(ctx context.Context, chatID, recipientID string) (int, error) {
	defer logger.DeferLogDuration("msg.CountUnread", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE chat_id = $1 AND recipient_id = $2 AND read = false`,
		chatID, recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.CountUnread: %w", err)
	}
	return count, nil
}
