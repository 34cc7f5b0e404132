package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, last_message, created_at FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &raw, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	if len(raw) > 0 {
		lm := &model.LastMessage{}
		if err := json.Unmarshal(raw, lm); err != nil {
			return nil, fmt.Errorf("chatRepo.GetByID last_message: %w", err)
		}
		c.LastMessage = lm
	}
	return c, nil
}

// SetLastMessage overwrites the chat's preview cache, creating the chat row
// if it does not exist yet. Last write wins across concurrent senders.
func (r *ChatRepository) SetLastMessage(ctx context.Context, chatID string, lm model.LastMessage) error {
	defer logger.DeferLogDuration("chat.SetLastMessage", time.Now())()
	raw, err := json.Marshal(lm)
	if err != nil {
		return fmt.Errorf("chatRepo.SetLastMessage marshal: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO chats (id, last_message, created_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET last_message = EXCLUDED.last_message`,
		chatID, raw,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.SetLastMessage: %w", err)
	}
	return nil
}

// MarkLastMessageRead flips the cached preview's read flag when the preview
// addresses the reader (sender is someone else) and is still unread. A stale
// cache silently no-ops; the per-message read flags remain authoritative.
func (r *ChatRepository) MarkLastMessageRead(ctx context.Context, chatID, readerID string) error {
	defer logger.DeferLogDuration("chat.MarkLastMessageRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET last_message = jsonb_set(last_message, '{read}', 'true')
		 WHERE id = $1
		   AND last_message IS NOT NULL
		   AND last_message->>'sender_id' <> $2
		   AND last_message->>'read' = 'false'`,
		chatID, readerID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.MarkLastMessageRead: %w", err)
	}
	return nil
}
