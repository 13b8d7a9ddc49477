// Package chatservice implements ChatService (§4.8), the composition
// root: it owns the socket->username registry Transport's bare-socketID
// handlers need translated into User's username-bearing calls, drives the
// connect/command/disconnect wiring, binds ClusterBus's two mandatory
// events to the local Transport, and owns graceful shutdown. It
// generalizes the teacher's ws.Hub (connectedUsers map plus its own
// mutex) from a fixed townhall/DM chat model to this wiring role.
package chatservice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatcore/internal/authhook"
	"chatcore/internal/chaterr"
	"chatcore/internal/cluster"
	"chatcore/internal/transport"
	"chatcore/internal/user"
)

// Service is the ChatService composition root.
type Service struct {
	transport    transport.Transport
	userSvc      *user.Service
	hook         authhook.Hook
	bus          *cluster.Bus
	closeTimeout time.Duration
	useRawErrors bool

	mu         sync.RWMutex
	socketUser map[string]string // socketID -> username, local to this instance
	closed     bool
	wg         sync.WaitGroup // in-flight HandleCommand calls
}

// New builds a ChatService over its collaborators and registers every
// Transport/ClusterBus handler it drives. bus may be nil for a
// single-instance deployment.
func New(tr transport.Transport, userSvc *user.Service, hook authhook.Hook, bus *cluster.Bus, closeTimeout time.Duration, useRawErrors bool) *Service {
	s := &Service{
		transport:    tr,
		userSvc:      userSvc,
		hook:         hook,
		bus:          bus,
		closeTimeout: closeTimeout,
		useRawErrors: useRawErrors,
		socketUser:   make(map[string]string),
	}

	tr.OnConnect(s.onConnect)
	tr.OnCommand(s.onCommand)
	tr.OnDisconnect(s.onDisconnect)

	if bus != nil {
		bus.OnRoomLeave(s.onClusterRoomLeave)
		bus.OnDisconnect(s.onClusterDisconnect)
	}

	return s
}

// onConnect runs the configured AuthHook and, on success, logs the
// resolved username in; a hook failure or Login failure emits
// loginRejected and disconnects the socket (§4.8, §6 "Authentication").
func (s *Service) onConnect(ctx context.Context, socketID string, query map[string]string) {
	username, err := s.hook.Resolve(ctx, query)
	if err != nil {
		s.rejectLogin(ctx, socketID, err)
		return
	}
	if err := s.userSvc.Login(ctx, socketID, username); err != nil {
		s.rejectLogin(ctx, socketID, err)
		return
	}

	s.mu.Lock()
	s.socketUser[socketID] = username
	s.mu.Unlock()

	if err := s.transport.EmitToSocket(ctx, socketID, "loginConfirmed", username); err != nil {
		slog.Warn("chatservice: loginConfirmed emit failed", "socket", socketID, "error", err)
	}
}

func (s *Service) rejectLogin(ctx context.Context, socketID string, err error) {
	_ = s.transport.EmitToSocket(ctx, socketID, "loginRejected", chaterr.Render(err, s.useRawErrors))
	if err := s.transport.Disconnect(ctx, socketID); err != nil {
		slog.Warn("chatservice: disconnect after loginRejected failed", "socket", socketID, "error", err)
	}
}

// onCommand resolves socketID's username from the local registry and
// delegates to User's hook pipeline. A socket with no resolved username
// (auth still pending, or already logged out) gets noLogin; a socket
// arriving after Close has begun draining gets serverError.
func (s *Service) onCommand(ctx context.Context, socketID string, cmd transport.Command) transport.Ack {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.Ack{Error: chaterr.Render(chaterr.New(chaterr.ServerError, "shutting down"), s.useRawErrors)}
	}
	username, ok := s.socketUser[socketID]
	if ok {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if !ok {
		return transport.Ack{Error: chaterr.Render(chaterr.New(chaterr.NoLogin), s.useRawErrors)}
	}
	defer s.wg.Done()

	return s.userSvc.HandleCommand(ctx, username, socketID, cmd)
}

// onDisconnect runs User's disconnect sequence for socketID once the
// transport has torn the connection down, whatever the reason.
func (s *Service) onDisconnect(socketID string, _ string) {
	s.mu.Lock()
	username, ok := s.socketUser[socketID]
	delete(s.socketUser, socketID)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.userSvc.HandleDisconnect(context.Background(), socketID, username)
}

// onClusterRoomLeave is ClusterBus's roomLeaveSocket responder: it is a
// pure transport-level operation (the domain-level Leave already ran on
// the instance that asked), so it just makes socketID leave the channel
// if this instance still holds it. Unknown sockets are silently ignored
// (§4.7): LeaveChannel on an instance that doesn't hold socketID returns
// transport.ErrInvalidSocket, which the bus logs and does not propagate.
func (s *Service) onClusterRoomLeave(ctx context.Context, socketID, roomName string) error {
	return s.transport.LeaveChannel(ctx, socketID, user.RoomChannel(roomName))
}

// onClusterDisconnect is ClusterBus's disconnectUserSockets responder: it
// disconnects every socket this instance holds for userName. The normal
// Transport.OnDisconnect handler then runs User's disconnect sequence for
// each, exactly as if the client had closed the connection itself.
func (s *Service) onClusterDisconnect(ctx context.Context, userName string) {
	s.mu.RLock()
	var targets []string
	for socketID, u := range s.socketUser {
		if u == userName {
			targets = append(targets, socketID)
		}
	}
	s.mu.RUnlock()

	for _, socketID := range targets {
		if err := s.transport.Disconnect(ctx, socketID); err != nil {
			slog.Warn("chatservice: cluster disconnect failed", "socket", socketID, "user", userName, "error", err)
		}
	}
}

// Close stops accepting new work, awaits in-flight commands up to
// closeTimeout, force-disconnects whatever sockets remain, and closes the
// underlying Transport (§4.8, §5 "Cancellation and timeouts").
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	remaining := make([]string, 0, len(s.socketUser))
	for socketID := range s.socketUser {
		remaining = append(remaining, socketID)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.closeTimeout):
		slog.Warn("chatservice: close timed out waiting for in-flight commands")
	case <-ctx.Done():
	}

	for _, socketID := range remaining {
		if err := s.transport.Disconnect(ctx, socketID); err != nil {
			slog.Warn("chatservice: force-disconnect during close failed", "socket", socketID, "error", err)
		}
	}

	return s.transport.Close()
}
