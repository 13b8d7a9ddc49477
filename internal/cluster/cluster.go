// Package cluster implements ClusterBus (§4.7): a pub/sub over
// Transport.Broadcast restricted to a reserved channel, with request/reply
// by naming convention for the two mandatory events, roomLeaveSocket and
// disconnectUserSockets.
package cluster

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"chatcore/internal/chaterr"
	"chatcore/internal/transport"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

const (
	eventRoomLeaveSocket      = "roomLeaveSocket"
	eventSocketRoomLeft       = "socketRoomLeft"
	eventDisconnectUserSocket = "disconnectUserSockets"
)

// packet is the envelope every ClusterBus message is wrapped in before
// being handed to Transport.Broadcast.
type packet struct {
	Event       string `json:"event"`
	Correlation string `json:"correlation,omitempty"`
	SocketID    string `json:"socketId,omitempty"`
	RoomName    string `json:"roomName,omitempty"`
	UserName    string `json:"userName,omitempty"`
}

// RoomLeaveHandler is invoked locally when this instance is asked to make
// socketID leave roomName's channel; the bus emits the ack once it returns.
type RoomLeaveHandler func(ctx context.Context, socketID, roomName string) error

// DisconnectHandler is invoked locally when this instance is asked to
// disconnect every socket it holds for userName.
type DisconnectHandler func(ctx context.Context, userName string)

// Bus is the ClusterBus reference implementation. Pending-ack bookkeeping
// for roomLeaveSocket mirrors the teacher's auth.AuthService.liveTokens
// pattern: a geche TTL cache keyed by correlation id, here holding the
// channel a waiter blocks on rather than a token value.
type Bus struct {
	t       transport.Transport
	timeout time.Duration
	pending geche.Geche[string, chan struct{}]

	onRoomLeave  RoomLeaveHandler
	onDisconnect DisconnectHandler
}

// New builds a ClusterBus over t. ackTimeout is busAckTimeout (§4.7, §5);
// a roomLeaveSocket call that receives no socketRoomLeft echo within this
// window returns a serverError to its caller.
func New(ctx context.Context, t transport.Transport, ackTimeout time.Duration) *Bus {
	b := &Bus{
		t:       t,
		timeout: ackTimeout,
		pending: geche.NewMapTTLCache[string, chan struct{}](ctx, ackTimeout, time.Second),
	}
	t.OnBroadcast(b.handlePacket)
	return b
}

// OnRoomLeave registers the local handler for roomLeaveSocket requests.
func (b *Bus) OnRoomLeave(h RoomLeaveHandler) { b.onRoomLeave = h }

// OnDisconnect registers the local handler for disconnectUserSockets requests.
func (b *Bus) OnDisconnect(h DisconnectHandler) { b.onDisconnect = h }

// RequestRoomLeave asks whichever instance owns socketID to leave
// roomName's channel, and blocks until that instance's socketRoomLeft echo
// arrives or busAckTimeout elapses (§4.7).
func (b *Bus) RequestRoomLeave(ctx context.Context, socketID, roomName string) error {
	correlation := uuid.NewString()
	done := make(chan struct{})
	b.pending.Set(correlation, done)
	defer b.pending.Del(correlation)

	pkt := packet{Event: eventRoomLeaveSocket, Correlation: correlation, SocketID: socketID, RoomName: roomName}
	if err := b.publish(ctx, pkt); err != nil {
		return chaterr.Wrap(err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(b.timeout):
		return chaterr.New(chaterr.ServerError, "roomLeaveSocket ack timeout")
	case <-ctx.Done():
		return chaterr.Wrap(ctx.Err())
	}
}

// NotifyDisconnectUserSockets asks every instance holding a socket for
// userName to disconnect it locally. Fire-and-forget: there is no ack,
// since disconnection on an instance that holds no socket for userName is
// a silent no-op by design (§4.7, "unknown sockets are silently ignored").
func (b *Bus) NotifyDisconnectUserSockets(ctx context.Context, userName string) error {
	pkt := packet{Event: eventDisconnectUserSocket, UserName: userName}
	return b.publish(ctx, pkt)
}

func (b *Bus) publish(ctx context.Context, pkt packet) error {
	payload, err := json.Marshal(pkt)
	if err != nil {
		return err
	}
	return b.t.Broadcast(ctx, payload)
}

func (b *Bus) handlePacket(payload []byte, sourceInstanceID string) {
	var pkt packet
	if err := json.Unmarshal(payload, &pkt); err != nil {
		slog.Warn("malformed cluster bus packet", "error", err)
		return
	}

	ctx := context.Background()
	switch pkt.Event {
	case eventRoomLeaveSocket:
		b.handleRoomLeaveSocket(ctx, pkt)
	case eventDisconnectUserSocket:
		if b.onDisconnect != nil {
			b.onDisconnect(ctx, pkt.UserName)
		}
	case eventSocketRoomLeft:
		b.handleSocketRoomLeftEcho(pkt)
	}
}

func (b *Bus) handleRoomLeaveSocket(ctx context.Context, pkt packet) {
	if b.onRoomLeave == nil {
		return
	}
	// Events received for unknown sockets are ignored (§4.7): a handler error
	// (e.g. ErrInvalidSocket from an instance that doesn't own socketID) is
	// logged at Warn level and no socketRoomLeft echo is sent.
	if err := b.onRoomLeave(ctx, pkt.SocketID, pkt.RoomName); err != nil {
		slog.Warn("roomLeaveSocket handler failed", "socketId", pkt.SocketID, "room", pkt.RoomName, "error", err)
		return
	}
	echo := packet{Event: eventSocketRoomLeft, Correlation: pkt.Correlation, SocketID: pkt.SocketID, RoomName: pkt.RoomName}
	if err := b.publish(ctx, echo); err != nil {
		slog.Warn("failed to publish socketRoomLeft echo", "error", err)
	}
}

func (b *Bus) handleSocketRoomLeftEcho(pkt packet) {
	done, err := b.pending.Get(pkt.Correlation)
	if err != nil {
		return // no local waiter, or it already timed out
	}
	select {
	case <-done:
	default:
		close(done)
	}
}
