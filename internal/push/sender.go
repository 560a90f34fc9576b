// Package push delivers Web Push notifications to browser subscriptions of
// users who have no live socket connection.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/adoptly/chat-service/internal/logger"
	"github.com/adoptly/chat-service/internal/model"
)

// SubscriptionStore is the persistence the sender needs; satisfied by
// repository.PushSubscriptionRepository.
type SubscriptionStore interface {
	ListByUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
	Delete(ctx context.Context, endpoint string) error
}

// Sender pushes notifications over the Web Push protocol.
type Sender struct {
	subs       SubscriptionStore
	keys       *VAPIDKeys
	subscriber string // contact mailto for the push service
	ttl        int
}

func NewSender(subs SubscriptionStore, keys *VAPIDKeys, subscriber string) *Sender {
	if subscriber == "" {
		subscriber = "mailto:admin@adoptly.example"
	}
	return &Sender{
		subs:       subs,
		keys:       keys,
		subscriber: subscriber,
		ttl:        60,
	}
}

type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify sends the notification to every subscription of the user.
// Best effort: delivery failures are logged, expired subscriptions pruned.
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	defer logger.DeferLogDuration("push.Notify", time.Now())()

	subs, err := s.subs.ListByUser(ctx, userID)
	if err != nil {
		logger.Errorf("push: list subscriptions user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(notification{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push: marshal notification: %v", err)
		return
	}

	for _, sub := range subs {
		s.sendOne(ctx, sub, payload)
	}
}

func (s *Sender) sendOne(ctx context.Context, sub model.PushSubscription, payload []byte) {
	ws := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}
	resp, err := webpush.SendNotification(payload, ws, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.keys.PublicKey,
		VAPIDPrivateKey: s.keys.PrivateKey,
		TTL:             s.ttl,
	})
	if err != nil {
		logger.Errorf("push: send user=%s: %v", sub.UserID, err)
		return
	}
	defer resp.Body.Close()

	// The push service reports dead subscriptions with 404/410; drop them so
	// the next notification does not retry a dead endpoint.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		if err := s.subs.Delete(ctx, sub.Endpoint); err != nil {
			logger.Errorf("push: prune subscription: %v", err)
		}
		return
	}
	if resp.StatusCode >= 300 {
		logger.Errorf("push: send user=%s status=%d", sub.UserID, resp.StatusCode)
	}
}
