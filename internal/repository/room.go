package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adoptly/chat-service/internal/logger"
	"github.com/adoptly/chat-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func (r *RoomRepository) Create(ctx context.Context, room *model.Room) error {
	defer logger.DeferLogDuration("room.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rooms (id, pet_id, pet_name, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		room.ID, room.PetID, room.PetName, room.CreatedBy, room.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Create: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	room := &model.Room{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, pet_id, pet_name, created_by, created_at, last_message_id, last_message_at
		 FROM rooms WHERE id = $1`, id,
	).Scan(&room.ID, &room.PetID, &room.PetName, &room.CreatedBy, &room.CreatedAt, &room.LastMessageID, &room.LastMessageAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) AddParticipant(ctx context.Context, p *model.RoomParticipant) error {
	defer logger.DeferLogDuration("room.AddParticipant", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO room_participants (room_id, user_id, display_name, unread_count, joined_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
		p.RoomID, p.UserID, p.DisplayName, p.UnreadCount, p.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.AddParticipant: %w", err)
	}
	return nil
}

func (r *RoomRepository) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	defer logger.DeferLogDuration("room.IsParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("roomRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

func (r *RoomRepository) GetParticipants(ctx context.Context, roomID string) ([]model.RoomParticipant, error) {
	defer logger.DeferLogDuration("room.GetParticipants", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT room_id, user_id, display_name, unread_count, joined_at
		 FROM room_participants WHERE room_id = $1 ORDER BY joined_at`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetParticipants query: %w", err)
	}
	defer rows.Close()

	participants := make([]model.RoomParticipant, 0, 4)
	for rows.Next() {
		var p model.RoomParticipant
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.DisplayName, &p.UnreadCount, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("roomRepo.GetParticipants scan: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.GetParticipants rows: %w", err)
	}
	return participants, nil
}

// IncrementUnread bumps the unread counter of every participant except the
// sender by exactly one. A single UPDATE keeps the increment atomic under
// concurrent sends; no read-modify-write.
func (r *RoomRepository) IncrementUnread(ctx context.Context, roomID, exceptUserID string) error {
	defer logger.DeferLogDuration("room.IncrementUnread", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE room_participants SET unread_count = unread_count + 1
		 WHERE room_id = $1 AND user_id != $2`,
		roomID, exceptUserID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.IncrementUnread: %w", err)
	}
	return nil
}

// ResetUnread zeroes one user's counter; the only way a counter goes down.
func (r *RoomRepository) ResetUnread(ctx context.Context, roomID, userID string) error {
	defer logger.DeferLogDuration("room.ResetUnread", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE room_participants SET unread_count = 0
		 WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.ResetUnread: %w", err)
	}
	return nil
}

func (r *RoomRepository) SetLastMessage(ctx context.Context, roomID, messageID string, at time.Time) error {
	defer logger.DeferLogDuration("room.SetLastMessage", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE rooms SET last_message_id = $1, last_message_at = $2 WHERE id = $3`,
		messageID, at, roomID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.SetLastMessage: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetUnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	defer logger.DeferLogDuration("room.GetUnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT unread_count FROM room_participants WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("roomRepo.GetUnreadCount: %w", err)
	}
	return count, nil
}

// GetUserRooms returns the rooms a user participates in, newest activity
// first, with that user's unread counter. Last messages are resolved by the
// caller through the message repository.
func (r *RoomRepository) GetUserRooms(ctx context.Context, userID string) ([]model.RoomSummary, error) {
	defer logger.DeferLogDuration("room.GetUserRooms", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.pet_id, r.pet_name, r.created_by, r.created_at, r.last_message_id, r.last_message_at, rp.unread_count
		 FROM rooms r
		 JOIN room_participants rp ON rp.room_id = r.id
		 WHERE rp.user_id = $1
		 ORDER BY COALESCE(r.last_message_at, r.created_at) DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetUserRooms query: %w", err)
	}
	defer rows.Close()

	summaries := make([]model.RoomSummary, 0, 16)
	for rows.Next() {
		var s model.RoomSummary
		if err := rows.Scan(&s.Room.ID, &s.Room.PetID, &s.Room.PetName, &s.Room.CreatedBy, &s.Room.CreatedAt,
			&s.Room.LastMessageID, &s.Room.LastMessageAt, &s.UnreadCount); err != nil {
			return nil, fmt.Errorf("roomRepo.GetUserRooms scan: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.GetUserRooms rows: %w", err)
	}
	return summaries, nil
}
