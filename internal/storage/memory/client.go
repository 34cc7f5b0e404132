package memory

import (
	"context"
	"sync"
	"time"
)

type item struct {
	userID string
	exp    time.Time
}

// Client is an in-process TokenCache for -dev runs and tests.
type Client struct {
	mu     sync.RWMutex
	tokens map[string]item
}

func New() *Client {
	return &Client{tokens: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) GetToken(ctx context.Context, token string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.tokens[token]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.userID, nil
}

func (c *Client) SetToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[token] = item{userID: userID, exp: time.Now().Add(ttl)}
	return nil
}

func (c *Client) DeleteToken(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, token)
	return nil
}
