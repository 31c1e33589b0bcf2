package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/educhat/internal/logger"
	"github.com/educhat/internal/model"
)

type subscriptionStore interface {
	ListByUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// Notifier sends Web Push notifications to a user's subscribed browsers.
// Delivery is fire-and-forget: failures are logged, dead endpoints (404/410
// from the push service) are dropped from storage.
type Notifier struct {
	subs  subscriptionStore
	vapid *webpush.Options
}

// NewNotifier builds a notifier. keys may be nil, which disables sending
// while subscriptions keep being stored.
func NewNotifier(subs subscriptionStore, keys *VAPIDKeys) *Notifier {
	var opts *webpush.Options
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		opts = &webpush.Options{
			Subscriber:      "educhat-push",
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return &Notifier{subs: subs, vapid: opts}
}

// Enabled reports whether VAPID keys are configured.
func (n *Notifier) Enabled() bool {
	return n.vapid != nil
}

// truncateBody caps the preview at max runes; the cut never splits a
// multi-byte character.
func truncateBody(body string, max int) string {
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max-3]) + "..."
}

// Notify pushes title/body to every subscription of the user. Runs in the
// caller's goroutine; callers on a hot path wrap it in `go`.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string) {
	if n.vapid == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	subs, err := n.subs.ListByUser(ctx, userID)
	if err != nil {
		logger.Errorf("push list subs user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, _ := json.Marshal(map[string]string{"title": title, "body": truncateBody(body, 120)})

	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, n.vapid)
		if err != nil {
			logger.Errorf("push send user=%s: %v", userID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			if err := n.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				logger.Errorf("push drop dead endpoint: %v", err)
			}
		}
	}
}
