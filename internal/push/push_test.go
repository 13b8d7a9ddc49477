package push

import (
	"context"
	"testing"

	"chatcore/internal/state"
)

func TestSendNilSubscriptionIsNoop(t *testing.T) {
	c := New("pub", "priv", "mailto:admin@example.com")
	c.Send(context.Background(), nil, "alice") // must not panic or block
}

func TestSendInvalidSubscriptionFailsSilently(t *testing.T) {
	c := New("pub", "priv", "mailto:admin@example.com")
	sub := &state.PushSubscription{Endpoint: "https://push.example.invalid/ep", P256DH: "not-a-key", Auth: "not-a-secret"}
	// Encryption of the payload fails before any network call is made; Send
	// must absorb the error rather than propagate or panic (best-effort).
	c.Send(context.Background(), sub, "alice")
}
