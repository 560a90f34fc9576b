package startup

import (
	"context"
	"time"

	"github.com/adoptly/chat-service/internal/logger"
	"github.com/adoptly/chat-service/internal/presence"
)

// ConnectPresencePublisher connects the Redis presence mirror with retries.
// Unlike the database, Redis is optional: after maxWait the service starts
// without the mirror (nil publisher) instead of exiting.
func ConnectPresencePublisher(redisURL string, maxWait time.Duration, logPrefix string) *presence.Publisher {
	if redisURL == "" {
		return nil
	}
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pub, err := presence.NewPublisher(ctx, redisURL)
		cancel()
		if err == nil {
			return pub
		}
		if time.Now().After(deadline) {
			logger.Errorf("%sredis unavailable after %v, presence mirror disabled: %v", logPrefix, maxWait, err)
			return nil
		}
		logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
