// Package push talks to the Web Push microservice. The relay never holds
// VAPID keys or browser subscriptions itself; it hands notifications to the
// push service over HTTP.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultNotifyTimeout = 5 * time.Second

// NotifyRequest is the payload sent to the push service.
type NotifyRequest struct {
	UserID    string            `json:"userId"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	ActionURL string            `json:"actionUrl,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// Client delivers notifications to the push service.
// A Client with an empty base URL is a no-op (pushes disabled).
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a push client for the given base URL.
// Pass "" to disable pushes.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultNotifyTimeout},
	}
}

// Enabled reports whether a push service is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// Notify asks the push service to deliver a notification to all of the
// user's browser subscriptions.
func (c *Client) Notify(ctx context.Context, userID, title, body, actionURL string, data map[string]string) error {
	if c.baseURL == "" {
		return nil
	}
	payload, err := json.Marshal(NotifyRequest{
		UserID:    userID,
		Title:     title,
		Body:      body,
		ActionURL: actionURL,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("push.Notify: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/notify", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("push.Notify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push.Notify: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push.Notify: push service returned %d", resp.StatusCode)
	}
	return nil
}
