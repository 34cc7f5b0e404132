package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/chatrelay/internal/logger"
)

const defaultVerifyTimeout = 5 * time.Second

// ServiceVerifier calls an external auth service to verify tokens. Any
// failure, including network errors and timeouts, maps to ErrInvalidToken:
// the socket is never opened for a caller we could not positively verify.
type ServiceVerifier struct {
	baseURL string
	client  *http.Client
}

// NewServiceVerifier creates a verifier against baseURL. timeout bounds the
// whole verification call; zero means the default of a few seconds.
func NewServiceVerifier(baseURL string, timeout time.Duration) *ServiceVerifier {
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	return &ServiceVerifier{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (v *ServiceVerifier) Verify(ctx context.Context, token string) (string, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return "", ErrInvalidToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/internal/verify", bytes.NewReader(body))
	if err != nil {
		return "", ErrInvalidToken
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		logger.Errorf("auth verify: %v", err)
		return "", ErrInvalidToken
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", ErrInvalidToken
	}

	var result struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.UserID == "" {
		return "", ErrInvalidToken
	}
	return result.UserID, nil
}
