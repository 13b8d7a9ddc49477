// Package push delivers a best-effort Web Push notification to a direct
// message recipient who holds no socket anywhere in the cluster, using the
// teacher's already-declared but previously unwired webpush-go dependency.
package push

import (
	"context"
	"encoding/json"
	"log/slog"

	"chatcore/internal/state"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Client sends Web Push notifications for fully-offline direct-message
// recipients. It is never on the hot path of an ack: Send logs failures and
// never returns an error the caller must react to (§4.4 expansion,
// "fire-and-forget... never blocks or fails the ack").
type Client struct {
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
}

// New builds a push Client from the three VAPID values (§6 configuration).
func New(vapidPublicKey, vapidPrivateKey, subscriber string) *Client {
	return &Client{
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      subscriber,
	}
}

// payload is the minimal shape delivered to the browser's push event
// handler; it intentionally carries no message body beyond sender identity,
// since the subscription endpoint is held by a third party (the browser
// vendor's push service) that should not see plaintext chat content.
type payload struct {
	Type string `json:"type"`
	From string `json:"from"`
}

// Send notifies sub that from sent a direct message. Errors are logged and
// swallowed; delivery is best-effort (Non-goal: guaranteed delivery).
func (c *Client) Send(ctx context.Context, sub *state.PushSubscription, from string) {
	if sub == nil {
		return
	}
	body, err := json.Marshal(payload{Type: "directMessage", From: from})
	if err != nil {
		slog.Warn("push: failed to marshal payload", "error", err)
		return
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      c.subscriber,
		VAPIDPublicKey:  c.vapidPublicKey,
		VAPIDPrivateKey: c.vapidPrivateKey,
		TTL:             60,
	})
	if err != nil {
		slog.Warn("push: send failed", "error", err)
		return
	}
	defer resp.Body.Close()
}
