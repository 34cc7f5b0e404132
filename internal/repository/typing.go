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

type TypingRepository struct {
	pool *pgxpool.Pool
}

func NewTypingRepository(pool *pgxpool.Pool) *TypingRepository {
	return &TypingRepository{pool: pool}
}

// Upsert overwrites the (chat_id, user_id) row. Last write wins; rows are
// never expired server-side.
func (r *TypingRepository) Upsert(ctx context.Context, chatID, userID string, isTyping bool, at time.Time) error {
	defer logger.DeferLogDuration("typing.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_typing (chat_id, user_id, is_typing, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (chat_id, user_id)
		 DO UPDATE SET is_typing = EXCLUDED.is_typing, updated_at = EXCLUDED.updated_at`,
		chatID, userID, isTyping, at,
	)
	if err != nil {
		return fmt.Errorf("typingRepo.Upsert: %w", err)
	}
	return nil
}

func (r *TypingRepository) Get(ctx context.Context, chatID, userID string) (*model.TypingStatus, error) {
	defer logger.DeferLogDuration("typing.Get", time.Now())()
	t := &model.TypingStatus{}
	err := r.pool.QueryRow(ctx,
		`SELECT chat_id, user_id, is_typing, updated_at
		 FROM user_typing WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&t.ChatID, &t.UserID, &t.IsTyping, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("typingRepo.Get: %w", err)
	}
	return t, nil
}
