// Package auth exchanges bearer tokens for verified user identities. The
// relay never issues tokens; it only verifies what the auth platform minted.
package auth

import (
	"context"
	"errors"
)

var (
	// ErrInvalidToken covers malformed, tampered and unverifiable tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token's lifetime has passed.
	ErrExpiredToken = errors.New("token has expired")
)

// Verifier exchanges a bearer token for a user ID. Implementations must
// bound their own I/O: a verification that never resolves is treated as
// unauthorized by the caller, never waited on indefinitely.
type Verifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}
