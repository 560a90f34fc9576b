package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/adoptly/chat-service/internal/logger"
	"github.com/adoptly/chat-service/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Upsert stores a user's reaction on a message. At most one reaction per
// (message, user): reacting again replaces the previous emoji, last write
// wins.
func (r *ReactionRepository) Upsert(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("reaction.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji, created_at = EXCLUDED.created_at`,
		messageID, userID, emoji, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Upsert: %w", err)
	}
	return nil
}

func (r *ReactionRepository) Remove(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Remove: %w", err)
	}
	return nil
}

func (r *ReactionRepository) GetByMessage(ctx context.Context, messageID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.GetByMessage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT mr.message_id, mr.user_id, mr.emoji, u.username, mr.created_at
		 FROM message_reactions mr
		 JOIN users u ON u.id = mr.user_id
		 WHERE mr.message_id = $1
		 ORDER BY mr.created_at`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.GetByMessage query: %w", err)
	}
	defer rows.Close()

	reactions := make([]model.Reaction, 0, 4)
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &rc.Emoji, &rc.Username, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.GetByMessage scan: %w", err)
		}
		reactions = append(reactions, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.GetByMessage rows: %w", err)
	}
	return reactions, nil
}
