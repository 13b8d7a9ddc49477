// Package transport defines the socket transport contract the core
// consumes (§4.6): per-socket emit, channel fan-out, and a broadcast
// primitive ClusterBus layers its pub/sub on top of.
package transport

import (
	"context"
	"encoding/json"
)

// ErrInvalidSocket is returned by JoinChannel/LeaveChannel/EmitToSocket
// when socketID names a socket this instance no longer holds.
var ErrInvalidSocket = errInvalidSocket{}

type errInvalidSocket struct{}

func (errInvalidSocket) Error() string { return "invalidSocket" }

// Socket identifies one live client connection, scoped by the instance
// that accepted it (InstanceID is globally stable per running process).
type Socket struct {
	InstanceID string
	SocketID   string
}

// ConnectHandler is invoked once per newly accepted socket. It is expected
// to run asynchronously with respect to the caller: Transport does not wait
// for it before accepting further connections.
type ConnectHandler func(ctx context.Context, socketID string, query map[string]string)

// Command is one client->server command call: a name, its positional JSON
// arguments, and an ack correlation id the transport uses to route the
// eventual Ack back to the right pending callback on the wire.
type Command struct {
	ID   string
	Name string
	Args []json.RawMessage
}

// Ack is the single acknowledgement every command produces (§4.5: "(error,
// data)"). Error is nil on success.
type Ack struct {
	Error any
	Data  any
}

// CommandHandler processes one Command already read off socketID's wire in
// order; the transport guarantees commands from the same socket are
// delivered to it one at a time and in order (§5 ordering guarantees).
type CommandHandler func(ctx context.Context, socketID string, cmd Command) Ack

// DisconnectHandler is invoked once a socket's connection is torn down,
// whether by the client, by Transport.Disconnect, or by a read error.
type DisconnectHandler func(socketID string, reason string)

// BroadcastHandler is invoked for every packet received on the reserved
// cluster channel, including this instance's own publications (callers
// that need to ignore their own echo compare SourceInstanceID themselves).
type BroadcastHandler func(payload []byte, sourceInstanceID string)

// Transport is the contract the core (ChatService) drives every socket
// and cross-instance notification through (§4.6).
type Transport interface {
	InstanceID() string

	// OnConnect registers the handler invoked for every new socket.
	OnConnect(handler ConnectHandler)
	// OnCommand registers the handler invoked for every command received
	// on any socket; its returned Ack is written back automatically.
	OnCommand(handler CommandHandler)
	// OnDisconnect registers the handler invoked when a socket goes away.
	OnDisconnect(handler DisconnectHandler)

	EmitToSocket(ctx context.Context, socketID, event string, args ...any) error
	EmitToChannel(ctx context.Context, channel, event string, args ...any) error
	EmitToChannelExceptSender(ctx context.Context, socketID, channel, event string, args ...any) error

	JoinChannel(ctx context.Context, socketID, channel string) error
	LeaveChannel(ctx context.Context, socketID, channel string) error

	Disconnect(ctx context.Context, socketID string) error

	// Broadcast publishes payload on the reserved cluster channel; every
	// instance's BroadcastHandler, including the publisher's own, receives
	// it; ClusterBus does not suppress that self-delivery and relies on it.
	Broadcast(ctx context.Context, payload []byte) error
	// OnBroadcast registers the handler invoked for every cluster packet.
	OnBroadcast(handler BroadcastHandler)

	Close() error
}
