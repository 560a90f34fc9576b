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

var ErrNotFound = errors.New("not found")

const userCols = `id, username, email, avatar_url, status, is_online, last_seen_at, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser scans a row into model.User (column order matches userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.Status, &u.IsOnline, &u.LastSeenAt, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, avatar_url, status, is_online, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.Email, u.AvatarURL, u.Status, u.IsOnline, u.LastSeenAt, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

// Upsert mirrors a marketplace user record into the chat store. Display
// fields and status follow the marketplace; presence fields stay untouched.
func (r *UserRepository) Upsert(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, avatar_url, status, is_online, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   username = EXCLUDED.username,
		   email = EXCLUDED.email,
		   avatar_url = EXCLUDED.avatar_url,
		   status = EXCLUDED.status`,
		u.ID, u.Username, u.Email, u.AvatarURL, u.Status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("userRepo.Upsert: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_seen_at = $2 WHERE id = $3`,
		online, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// ResetAllOnline clears is_online for everyone; called on boot, since no
// socket survives a process restart.
func (r *UserRepository) ResetAllOnline(ctx context.Context) error {
	defer logger.DeferLogDuration("user.ResetAllOnline", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false WHERE is_online`)
	if err != nil {
		return fmt.Errorf("userRepo.ResetAllOnline: %w", err)
	}
	return nil
}
