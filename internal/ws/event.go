package ws

import (
	"time"

	"github.com/adoptly/chat-service/internal/model"
	"github.com/adoptly/chat-service/internal/presence"
)

type EventType string

// Client-to-server events.
const (
	EventRoomJoin        EventType = "room:join"
	EventRoomLeave       EventType = "room:leave"
	EventMessageSend     EventType = "message:send"
	EventMessageRead     EventType = "message:read"
	EventRoomMarkRead    EventType = "room:mark_read"
	EventTypingStart     EventType = "typing:start"
	EventTypingStop      EventType = "typing:stop"
	EventMessageReaction EventType = "message:reaction"
	EventUsersGetOnline  EventType = "users:get_online"
)

// Server-to-client events.
const (
	EventRoomJoined        EventType = "room:joined"
	EventUserJoinedRoom    EventType = "user:joined_room"
	EventUserLeftRoom      EventType = "user:left_room"
	EventMessageNew        EventType = "message:new"
	EventMessageSent       EventType = "message:sent"
	EventMessageError      EventType = "message:error"
	EventMessageReadBy     EventType = "message:read_by"
	EventRoomReadBy        EventType = "room:read_by"
	EventTypingUserStart   EventType = "typing:user_start"
	EventTypingUserStop    EventType = "typing:user_stop"
	EventReactionUpdated   EventType = "message:reaction_updated"
	EventUsersOnlineList   EventType = "users:online_list"
	EventUserOnline        EventType = "user:online"
	EventUserOffline       EventType = "user:offline"
	EventError             EventType = "error"
)

// IncomingEvent is what the client sends to the server.
type IncomingEvent struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id,omitempty"`

	// For message:send
	Content     string            `json:"content,omitempty"`
	MessageType model.MessageType `json:"message_type,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`

	// For message:read / message:reaction
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
}

// OutgoingEvent is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// --- Typed payloads ---

// RoomJoinedPayload confirms a join to the requester.
type RoomJoinedPayload struct {
	RoomID string `json:"room_id"`
}

// UserJoinedRoomPayload is announced to the rest of the room on join.
type UserJoinedRoomPayload struct {
	RoomID       string `json:"room_id"`
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profile_image,omitempty"`
}

// UserLeftRoomPayload is announced to the remaining room on leave.
type UserLeftRoomPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// MessageSentPayload is the ack to the sender only.
type MessageSentPayload struct {
	MessageID string `json:"message_id"`
}

// MessageErrorPayload reports a failed send to the sender only.
type MessageErrorPayload struct {
	Error string `json:"error"`
}

// MessageReadByPayload is broadcast when one message is marked read.
type MessageReadByPayload struct {
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// RoomReadByPayload is broadcast when a whole room is marked read.
type RoomReadByPayload struct {
	RoomID string    `json:"room_id"`
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// TypingPayload is the advisory typing signal.
type TypingPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// ReactionUpdatedPayload carries the full current reaction set of a message.
type ReactionUpdatedPayload struct {
	MessageID string           `json:"message_id"`
	RoomID    string           `json:"room_id"`
	Reactions []model.Reaction `json:"reactions"`
	UpdatedBy string           `json:"updated_by"`
}

// OnlineListPayload answers users:get_online, excluding the requester.
type OnlineListPayload struct {
	Users []presence.Entry `json:"users"`
}

// UserStatusPayload is broadcast on connect/disconnect transitions.
type UserStatusPayload struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profile_image,omitempty"`
}

// ErrorPayload is the generic per-handler failure event.
type ErrorPayload struct {
	Message string `json:"message"`
}
