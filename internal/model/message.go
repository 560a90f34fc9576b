package model

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

// Message is immutable once created; only read receipts and reactions are
// appended or replaced afterwards.
type Message struct {
	ID          string        `json:"id"`
	RoomID      string        `json:"room_id"`
	SenderID    string        `json:"sender_id"`
	Content     string        `json:"content"`
	MessageType MessageType   `json:"message_type"`
	ReplyToID   *string       `json:"reply_to_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	Sender      *UserPublic   `json:"sender,omitempty"`
	ReplyTo     *Message      `json:"reply_to,omitempty"`
	Reactions   []Reaction    `json:"reactions,omitempty"`
	ReadBy      []ReadReceipt `json:"read_by,omitempty"`
}

// Reaction is at most one per (message, user); reacting again replaces the emoji.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadReceipt is append-only, at most one per (message, user).
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// PushSubscription is a browser Web Push subscription for one device.
type PushSubscription struct {
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}
