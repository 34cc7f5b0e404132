package storage

import (
	"context"
	"time"
)

// TokenCache caches verified bearer tokens for a bounded TTL.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type TokenCache interface {
	// GetToken returns the cached user ID for a token, or "" when absent.
	GetToken(ctx context.Context, token string) (userID string, err error)
	SetToken(ctx context.Context, token, userID string, ttl time.Duration) error
	DeleteToken(ctx context.Context, token string) error
	Close() error
}
