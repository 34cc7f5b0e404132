package model

import "time"

// TypingStatus is keyed by (chat_id, user_id) and overwritten on every typing
// event. The server never expires rows; clients reissue is_typing=false after
// their own inactivity window, so a stale true is cosmetic at worst.
type TypingStatus struct {
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	UpdatedAt time.Time `json:"updated_at"`
}
