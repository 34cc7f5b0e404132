package redis

import (
	"context"
	"fmt"
)

// Subscriptions live in a list per user. The value is the serialized browser
// PushSubscription JSON; it doubles as the removal key for LRem.
func subsKey(userID string) string {
	return "push:subs:" + userID
}

// AddSubscription stores a browser push subscription for the user.
// Re-adding an identical subscription is a no-op.
func (c *Client) AddSubscription(ctx context.Context, userID, subscription string) error {
	existing, err := c.cli.LRange(ctx, subsKey(userID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis add subscription: %w", err)
	}
	for _, s := range existing {
		if s == subscription {
			return nil
		}
	}
	if err := c.cli.RPush(ctx, subsKey(userID), subscription).Err(); err != nil {
		return fmt.Errorf("redis add subscription: %w", err)
	}
	return nil
}

// RemoveSubscription deletes one stored subscription for the user.
func (c *Client) RemoveSubscription(ctx context.Context, userID, subscription string) error {
	if err := c.cli.LRem(ctx, subsKey(userID), 0, subscription).Err(); err != nil {
		return fmt.Errorf("redis remove subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns all stored subscriptions for the user.
func (c *Client) ListSubscriptions(ctx context.Context, userID string) ([]string, error) {
	subs, err := c.cli.LRange(ctx, subsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list subscriptions: %w", err)
	}
	return subs, nil
}
