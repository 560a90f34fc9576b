package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adoptly/chat-service/internal/logger"
	"github.com/redis/go-redis/v9"
)

// Presence keys live long enough to survive a pub/sub hiccup but expire on
// their own if the process dies without cleaning up.
const (
	onlineTTL     = 5 * time.Minute
	offlineTTL    = time.Minute
	statusChannel = "user_status"
)

// StatusUpdate is the payload published on the user_status channel for
// sibling services (push, marketplace API).
type StatusUpdate struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// Publisher mirrors online/offline transitions into Redis: a presence:{id}
// key with TTL plus a pub/sub notification. A nil Publisher is a no-op, so
// the service runs without Redis configured.
type Publisher struct {
	cli *redis.Client
}

func NewPublisher(ctx context.Context, url string) (*Publisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("presence: redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("presence: redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("presence: redis ping: %w", err)
	}
	return &Publisher{cli: cli}, nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.cli.Close()
}

// PublishStatus records the transition and notifies subscribers. Failures are
// logged, not returned: the in-process registry stays authoritative.
func (p *Publisher) PublishStatus(ctx context.Context, userID, username string, online bool) {
	if p == nil {
		return
	}
	status, ttl := "online", onlineTTL
	if !online {
		status, ttl = "offline", offlineTTL
	}
	if err := p.cli.Set(ctx, "presence:"+userID, status, ttl).Err(); err != nil {
		logger.Errorf("presence: set %s user=%s: %v", status, userID, err)
	}
	payload, err := json.Marshal(StatusUpdate{UserID: userID, Username: username, Online: online})
	if err != nil {
		logger.Errorf("presence: marshal status user=%s: %v", userID, err)
		return
	}
	if err := p.cli.Publish(ctx, statusChannel, payload).Err(); err != nil {
		logger.Errorf("presence: publish status user=%s: %v", userID, err)
	}
}
