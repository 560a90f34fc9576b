package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/adoptly/chat-service/internal/logger"
	"github.com/adoptly/chat-service/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PushSubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewPushSubscriptionRepository(pool *pgxpool.Pool) *PushSubscriptionRepository {
	return &PushSubscriptionRepository{pool: pool}
}

// Save upserts a subscription keyed by endpoint; re-subscribing from the same
// browser refreshes the keys instead of duplicating.
func (r *PushSubscriptionRepository) Save(ctx context.Context, s *model.PushSubscription) error {
	defer logger.DeferLogDuration("pushSub.Save", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (endpoint) DO UPDATE SET user_id = EXCLUDED.user_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`,
		s.UserID, s.Endpoint, s.P256dh, s.Auth, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pushSubRepo.Save: %w", err)
	}
	return nil
}

func (r *PushSubscriptionRepository) Delete(ctx context.Context, endpoint string) error {
	defer logger.DeferLogDuration("pushSub.Delete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint,
	)
	if err != nil {
		return fmt.Errorf("pushSubRepo.Delete: %w", err)
	}
	return nil
}

func (r *PushSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	defer logger.DeferLogDuration("pushSub.ListByUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, endpoint, p256dh, auth, created_at
		 FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("pushSubRepo.ListByUser query: %w", err)
	}
	defer rows.Close()

	subs := make([]model.PushSubscription, 0, 2)
	for rows.Next() {
		var s model.PushSubscription
		if err := rows.Scan(&s.UserID, &s.Endpoint, &s.P256dh, &s.Auth, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("pushSubRepo.ListByUser scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pushSubRepo.ListByUser rows: %w", err)
	}
	return subs, nil
}
