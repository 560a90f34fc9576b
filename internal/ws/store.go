package ws

import (
	"context"
	"time"

	"github.com/adoptly/chat-service/internal/model"
)

// The hub talks to persistence through these interfaces; the pgx repositories
// satisfy them in production and tests substitute in-memory fakes.

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	SetOnline(ctx context.Context, userID string, online bool) error
}

type RoomStore interface {
	GetByID(ctx context.Context, id string) (*model.Room, error)
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	GetParticipants(ctx context.Context, roomID string) ([]model.RoomParticipant, error)
	IncrementUnread(ctx context.Context, roomID, exceptUserID string) error
	ResetUnread(ctx context.Context, roomID, userID string) error
	SetLastMessage(ctx context.Context, roomID, messageID string, at time.Time) error
}

type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) (bool, error)
}

type ReactionStore interface {
	Upsert(ctx context.Context, messageID, userID, emoji string) error
	GetByMessage(ctx context.Context, messageID string) ([]model.Reaction, error)
}

// PushNotifier sends push notifications. A nil PushNotifier disables push.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// StatusPublisher mirrors online/offline transitions to external consumers.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, userID, username string, online bool)
}
