package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// tokenKey hashes the raw bearer token; the token itself is never stored.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token:" + hex.EncodeToString(sum[:])
}

func (c *Client) GetToken(ctx context.Context, token string) (string, error) {
	val, err := c.cli.Get(ctx, tokenKey(token)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) SetToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	return c.cli.Set(ctx, tokenKey(token), userID, ttl).Err()
}

func (c *Client) DeleteToken(ctx context.Context, token string) error {
	return c.cli.Del(ctx, tokenKey(token)).Err()
}
