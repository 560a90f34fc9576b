package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adoptly/chat-service/internal/logger"
	"github.com/adoptly/chat-service/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists a new message, assigning id and timestamp when unset.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, room_id, sender_id, content, message_type, reply_to_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.RoomID, m.SenderID, m.Content, m.MessageType, m.ReplyToID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// GetByID returns the populated view of a message: sender resolved to public
// display fields, reply target resolved to a one-level preview.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	sender := &model.UserPublic{}
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.room_id, m.sender_id, m.content, m.message_type, m.reply_to_id, m.created_at,
		        u.id, u.username, u.avatar_url, u.is_online, u.last_seen_at
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.MessageType, &m.ReplyToID, &m.CreatedAt,
		&sender.ID, &sender.Username, &sender.AvatarURL, &sender.IsOnline, &sender.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	m.Sender = sender

	if m.ReplyToID != nil {
		reply := &model.Message{}
		replySender := &model.UserPublic{}
		err := r.pool.QueryRow(ctx,
			`SELECT m.id, m.room_id, m.sender_id, m.content, m.message_type, m.created_at,
			        u.id, u.username, u.avatar_url, u.is_online, u.last_seen_at
			 FROM messages m
			 JOIN users u ON u.id = m.sender_id
			 WHERE m.id = $1`, *m.ReplyToID,
		).Scan(&reply.ID, &reply.RoomID, &reply.SenderID, &reply.Content, &reply.MessageType, &reply.CreatedAt,
			&replySender.ID, &replySender.Username, &replySender.AvatarURL, &replySender.IsOnline, &replySender.LastSeenAt)
		if err == nil {
			reply.Sender = replySender
			m.ReplyTo = reply
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("msgRepo.GetByID reply: %w", err)
		}
	}
	return m, nil
}

func (r *MessageRepository) GetRoomMessages(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetRoomMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.room_id, m.sender_id, m.content, m.message_type, m.reply_to_id, m.created_at,
		        u.id, u.username, u.avatar_url, u.is_online, u.last_seen_at
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = $1
		 ORDER BY m.created_at DESC
		 LIMIT $2 OFFSET $3`, roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetRoomMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.MessageType, &m.ReplyToID, &m.CreatedAt,
			&sender.ID, &sender.Username, &sender.AvatarURL, &sender.IsOnline, &sender.LastSeenAt); err != nil {
			return nil, fmt.Errorf("msgRepo.GetRoomMessages scan: %w", err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetRoomMessages rows: %w", err)
	}
	return messages, nil
}

// MarkRead appends a read receipt for one user. Append-only and idempotent:
// the second call for the same (message, user) inserts nothing and reports
// false.
func (r *MessageRepository) MarkRead(ctx context.Context, messageID, userID string, at time.Time) (bool, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO message_reads (message_id, user_id, read_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		messageID, userID, at,
	)
	if err != nil {
		return false, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *MessageRepository) GetReadReceipts(ctx context.Context, messageID string) ([]model.ReadReceipt, error) {
	defer logger.DeferLogDuration("msg.GetReadReceipts", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id, read_at FROM message_reads
		 WHERE message_id = $1 ORDER BY read_at`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetReadReceipts query: %w", err)
	}
	defer rows.Close()

	receipts := make([]model.ReadReceipt, 0, 4)
	for rows.Next() {
		var rr model.ReadReceipt
		if err := rows.Scan(&rr.MessageID, &rr.UserID, &rr.ReadAt); err != nil {
			return nil, fmt.Errorf("msgRepo.GetReadReceipts scan: %w", err)
		}
		receipts = append(receipts, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetReadReceipts rows: %w", err)
	}
	return receipts, nil
}
