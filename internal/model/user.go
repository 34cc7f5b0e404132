package model

import "time"

// User carries the presence columns the relay mutates. Profile management
// lives elsewhere; the relay only flips is_online and last_seen_at.
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	AvatarURL  string    `json:"avatar_url"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}
