package model

import "time"

type NotificationType string

const (
	// NotificationTypeMessage is the only type the relay itself emits.
	NotificationTypeMessage NotificationType = "message"
)

// Notification is written as a side effect of message delivery. The relay
// only ever creates these; reading and marking them is left to the consumer.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      NotificationType  `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	ActionURL string            `json:"action_url"`
	Read      bool              `json:"read"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
