package model

import "time"

// ChatMessage is one persisted message in a direct chat. At least one of
// Text, ImageURL, VoiceURL is set; the relay rejects frames that carry none.
type ChatMessage struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Text        string    `json:"text,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	VoiceURL    string    `json:"voice_url,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// DisplayText derives the string shown in chat list previews: the literal
// text when present, otherwise a placeholder for the attachment kind.
func (m *ChatMessage) DisplayText() string {
	switch {
	case m.Text != "":
		return m.Text
	case m.ImageURL != "":
		return "Image"
	case m.VoiceURL != "":
		return "Voice message"
	default:
		return ""
	}
}

// HasContent reports whether the message carries any payload at all.
func (m *ChatMessage) HasContent() bool {
	return m.Text != "" || m.ImageURL != "" || m.VoiceURL != ""
}
