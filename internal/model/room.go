package model

import "time"

// Room is a conversation between the people interested in one pet listing.
// PetID and PetName are display snapshots owned by the wider marketplace.
type Room struct {
	ID            string     `json:"id"`
	PetID         string     `json:"pet_id"`
	PetName       string     `json:"pet_name"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageID *string    `json:"last_message_id,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// RoomParticipant carries the per-user room state: a display-name snapshot
// and the unread counter the fan-out engine increments.
type RoomParticipant struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	UnreadCount int       `json:"unread_count"`
	JoinedAt    time.Time `json:"joined_at"`
}

// RoomSummary is the REST-facing view of a room for one user: the room, the
// populated last message, and that user's unread counter.
type RoomSummary struct {
	Room        Room     `json:"room"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}
