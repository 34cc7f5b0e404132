package model

import "time"

// Chat is a two-participant conversation. LastMessage is a denormalized
// preview used by list views; it is a cache, not the source of truth, and
// can always be rebuilt from the messages table.
type Chat struct {
	ID          string       `json:"id"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// LastMessage is the cached preview of the most recent message in a chat.
type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// LastMessageFrom builds the preview for a freshly persisted message.
func LastMessageFrom(m *ChatMessage) LastMessage {
	return LastMessage{
		Text:      m.DisplayText(),
		SenderID:  m.SenderID,
		Read:      false,
		CreatedAt: m.CreatedAt,
	}
}
