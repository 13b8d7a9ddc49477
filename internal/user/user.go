// Package user binds the socket-level command surface to the domain
// (room, dm), and implements presence, multi-socket echo, and the hook
// pipeline (§4.5). It is the largest single component: every other package
// in this module exists to be orchestrated from here.
package user

import (
	"context"
	"io"
	"log/slog"

	"chatcore/internal/cluster"
	"chatcore/internal/dm"
	"chatcore/internal/room"
	"chatcore/internal/state"
	"chatcore/internal/store"
	"chatcore/internal/transport"
)

// PushSender delivers a best-effort notification to a fully-offline direct
// message recipient; internal/push.Client satisfies this.
type PushSender interface {
	Send(ctx context.Context, sub *state.PushSubscription, from string)
}

// FileStore persists attachment bytes content-addressed by hash;
// *internal/filestore.LocalFileStore satisfies this.
type FileStore interface {
	Save(r io.Reader, hash string) error
}

// Config is the subset of §6 configuration User needs. ChatService owns the
// full config.Config and passes this narrower view in, so User does not
// import the config package (keeping the dependency direction shallow).
type Config struct {
	EnableDirectMessages    bool
	EnableRoomsManagement   bool
	EnableUserlistUpdates   bool
	EnablePushNotifications bool
	UseRawErrorObjects      bool
	HistoryMaxMessages      int
	AttachmentsMaxBytes     int64
}

// Service is the User aggregate: the command table, the hook pipeline, and
// every notification/echo/eviction side effect a command produces.
type Service struct {
	store     store.StateStore
	room      *room.Room
	dm        *dm.DirectMessaging
	transport transport.Transport
	bus       *cluster.Bus
	push      PushSender
	files     FileStore
	cfg       Config

	before map[string]BeforeHook
	after  map[string]AfterHook

	commands map[string]commandSpec
}

// New builds the User aggregate over its collaborators. bus and push may be
// nil (single-instance deployment, push notifications disabled); files may
// be nil (attachments then fail badArgument).
func New(s store.StateStore, t transport.Transport, bus *cluster.Bus, ps PushSender, fs FileStore, cfg Config) *Service {
	svc := &Service{
		store:     s,
		room:      room.New(s),
		dm:        dm.New(s),
		transport: t,
		bus:       bus,
		push:      ps,
		files:     fs,
		cfg:       cfg,
		before:    make(map[string]BeforeHook),
		after:     make(map[string]AfterHook),
	}
	svc.commands = svc.buildCommandTable()
	return svc
}

// UserChannel is the transport channel name for username's echo channel
// (every socket of username, on every instance), exported alongside
// RoomChannel so the naming convention lives in one place.
func UserChannel(name string) string { return userChannel(name) }

// RoomChannel is the transport channel name for a room, exported for the
// same reason as UserChannel.
func RoomChannel(name string) string { return roomChannel(name) }

func userChannel(name string) string { return "user:" + name }
func roomChannel(name string) string { return "room:" + name }

// Login registers socket as one of username's presence entries and joins it
// to username's own echo channel, used for directMessage fan-out and every
// *Echo notification to the user's other sockets (§4.8).
func (s *Service) Login(ctx context.Context, socketID, username string) error {
	socket := state.SocketRef{InstanceID: s.transport.InstanceID(), SocketID: socketID}
	if _, err := s.store.LoginUser(ctx, username, socket); err != nil {
		return err
	}
	return s.transport.JoinChannel(ctx, socketID, userChannel(username))
}

// HandleDisconnect runs the disconnect sequence for socketID, whether it was
// triggered by the explicit disconnect command or by the transport tearing
// the connection down. Per §9's resolved open question, the all-rooms-leave
// path runs only once the presence set is empty after this socket's removal.
func (s *Service) HandleDisconnect(ctx context.Context, socketID, username string) {
	socket := state.SocketRef{InstanceID: s.transport.InstanceID(), SocketID: socketID}
	remaining, err := s.store.SocketRemove(ctx, username, socket)
	if err != nil {
		slog.Warn("disconnect: socket removal failed", "user", username, "error", err)
		return
	}
	if remaining > 0 {
		return
	}

	rooms, err := s.store.RoomMembershipGetAll(ctx, username)
	if err != nil {
		slog.Warn("disconnect: failed to list room memberships", "user", username, "error", err)
		return
	}
	for _, roomName := range rooms {
		if err := s.leaveRoom(ctx, roomName, username); err != nil {
			slog.Warn("disconnect: leaveRoom failed", "room", roomName, "user", username, "error", err)
		}
	}

	if err := s.store.LogoutUser(ctx, username); err != nil {
		slog.Warn("disconnect: logout failed", "user", username, "error", err)
	}
}

// leaveRoom runs Room.Leave for username and, on success, removes the
// reverse-index membership and makes every socket of username (local or
// remote) leave the room's transport channel, emitting roomUserLeft to the
// remaining members if enabled.
func (s *Service) leaveRoom(ctx context.Context, roomName, username string) error {
	if err := s.room.Leave(ctx, roomName, username); err != nil {
		return err
	}
	if err := s.store.RoomMembershipRemove(ctx, username, roomName); err != nil {
		slog.Warn("leaveRoom: membership removal failed", "room", roomName, "user", username, "error", err)
	}
	s.leaveChannelEverywhere(ctx, username, roomName)
	if s.cfg.EnableUserlistUpdates {
		_ = s.transport.EmitToChannel(ctx, roomChannel(roomName), "roomUserLeft", roomName, username)
	}
	return nil
}

// leaveChannelEverywhere asks every instance holding a socket for username
// to leave roomName's channel: directly if the socket is local, through
// ClusterBus.RequestRoomLeave otherwise. Each remote request runs in its own
// goroutine so a slow or unreachable instance cannot stall the caller.
func (s *Service) leaveChannelEverywhere(ctx context.Context, username, roomName string) {
	sockets, err := s.store.SocketsGetAll(ctx, username)
	if err != nil {
		slog.Warn("leaveChannelEverywhere: failed to list sockets", "user", username, "error", err)
		return
	}
	channel := roomChannel(roomName)
	for _, sock := range sockets {
		if sock.InstanceID == s.transport.InstanceID() {
			_ = s.transport.LeaveChannel(ctx, sock.SocketID, channel)
			continue
		}
		if s.bus == nil {
			continue
		}
		sock := sock
		go func() {
			if err := s.bus.RequestRoomLeave(context.Background(), sock.SocketID, roomName); err != nil {
				slog.Warn("leaveChannelEverywhere: remote leave failed", "socket", sock.SocketID, "room", roomName, "error", err)
			}
		}()
	}
}

// evictLostAccess is called with the lost-access set Room.AddToList /
// Room.RemoveFromList / Room.ChangeMode returns: for each user, it removes
// the reverse-index membership, makes their sockets leave the room channel
// everywhere, and notifies them with roomAccessRemoved (§4.3, §4.5 events
// table) on their own user channel, not the room channel they're leaving.
func (s *Service) evictLostAccess(ctx context.Context, roomName string, lost []string) {
	for _, u := range lost {
		if err := s.store.RoomMembershipRemove(ctx, u, roomName); err != nil {
			slog.Warn("evictLostAccess: membership removal failed", "room", roomName, "user", u, "error", err)
		}
		s.leaveChannelEverywhere(ctx, u, roomName)
		_ = s.transport.EmitToChannel(ctx, userChannel(u), "roomAccessRemoved", roomName)
	}
}

// echoOtherSockets notifies username's other sockets (any instance) of a
// command-specific event, excluding the originating socket (§4.5
// "multi-socket echo semantics").
func (s *Service) echoOtherSockets(ctx context.Context, username, socketID, event string, args ...any) {
	if err := s.transport.EmitToChannelExceptSender(ctx, socketID, userChannel(username), event, args...); err != nil {
		slog.Warn("echoOtherSockets failed", "user", username, "event", event, "error", err)
	}
}

