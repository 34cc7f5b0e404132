package auth

import (
	"context"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/storage"
)

// CachedVerifier memoizes successful verifications in a TokenCache for a
// short TTL, so reconnect storms do not hammer the auth service. Failures
// are never cached.
type CachedVerifier struct {
	next  Verifier
	cache storage.TokenCache
	ttl   time.Duration
}

func NewCachedVerifier(next Verifier, cache storage.TokenCache, ttl time.Duration) *CachedVerifier {
	return &CachedVerifier{next: next, cache: cache, ttl: ttl}
}

func (v *CachedVerifier) Verify(ctx context.Context, token string) (string, error) {
	userID, err := v.cache.GetToken(ctx, token)
	if err != nil {
		logger.Errorf("auth cache get: %v", err)
	} else if userID != "" {
		return userID, nil
	}

	userID, err = v.next.Verify(ctx, token)
	if err != nil {
		return "", err
	}
	if err := v.cache.SetToken(ctx, token, userID, v.ttl); err != nil {
		logger.Errorf("auth cache set: %v", err)
	}
	return userID, nil
}
