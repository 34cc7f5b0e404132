package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type FrameType string

const (
	FrameChatMessage  FrameType = "chat_message"
	FrameTypingStatus FrameType = "typing_status"
	FrameReadReceipt  FrameType = "read_receipt"
	FrameMessageSent  FrameType = "message_sent"
)

// ErrInvalidMessage is returned when an inbound frame is not valid JSON.
// Recoverable: the connection stays open and an error frame goes back.
var ErrInvalidMessage = errors.New("invalid message format")

// UnknownTypeError carries the offending type back to the client.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type: %q", e.Type)
}

// MissingFieldError names the required field(s) a chat_message frame lacks.
// Nothing is persisted when it is raised.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return "missing required field(s): " + strings.Join(e.Fields, ", ")
}

// envelope is the raw inbound shape. It is decoded exactly once, at the
// socket boundary, into one of the typed frames below; handlers never see
// loosely-typed maps.
type envelope struct {
	Type        FrameType `json:"type"`
	ChatID      string    `json:"chatId"`
	RecipientID string    `json:"recipientId"`
	Text        string    `json:"text"`
	ImageURL    string    `json:"imageUrl"`
	VoiceURL    string    `json:"voiceUrl"`
	IsTyping    bool      `json:"isTyping"`
}

// Frame is the tagged union of inbound frames.
type Frame interface {
	frameType() FrameType
}

type ChatMessageFrame struct {
	ChatID      string
	RecipientID string
	Text        string
	ImageURL    string
	VoiceURL    string
}

type TypingStatusFrame struct {
	ChatID   string
	IsTyping bool
}

type ReadReceiptFrame struct {
	ChatID string
}

func (*ChatMessageFrame) frameType() FrameType  { return FrameChatMessage }
func (*TypingStatusFrame) frameType() FrameType { return FrameTypingStatus }
func (*ReadReceiptFrame) frameType() FrameType  { return FrameReadReceipt }

// DecodeFrame parses one inbound text frame. Malformed JSON yields
// ErrInvalidMessage; a well-formed frame with an unrecognized type yields
// *UnknownTypeError. Field validation happens in the handlers.
func DecodeFrame(raw []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrInvalidMessage
	}
	switch env.Type {
	case FrameChatMessage:
		return &ChatMessageFrame{
			ChatID:      env.ChatID,
			RecipientID: env.RecipientID,
			Text:        env.Text,
			ImageURL:    env.ImageURL,
			VoiceURL:    env.VoiceURL,
		}, nil
	case FrameTypingStatus:
		return &TypingStatusFrame{ChatID: env.ChatID, IsTyping: env.IsTyping}, nil
	case FrameReadReceipt:
		return &ReadReceiptFrame{ChatID: env.ChatID}, nil
	default:
		return nil, &UnknownTypeError{Type: string(env.Type)}
	}
}

// SentAck confirms a persisted message to its sender so the client can
// reconcile optimistic UI state against the real id and server timestamp.
type SentAck struct {
	Type      FrameType `json:"type"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorFrame is the uniform client-visible error shape.
type ErrorFrame struct {
	Error string `json:"error"`
}
