package cluster

import (
	"context"
	"testing"
	"time"

	"chatcore/internal/chaterr"
	"chatcore/internal/transport"
)

// fakeTransport is a minimal single-instance transport.Transport stub that
// only wires Broadcast/OnBroadcast synchronously, enough to exercise Bus in
// isolation without a real socket layer.
type fakeTransport struct {
	handler transport.BroadcastHandler
}

func (f *fakeTransport) InstanceID() string                                { return "fake" }
func (f *fakeTransport) OnConnect(transport.ConnectHandler)                {}
func (f *fakeTransport) OnCommand(transport.CommandHandler)                {}
func (f *fakeTransport) OnDisconnect(transport.DisconnectHandler)          {}
func (f *fakeTransport) EmitToSocket(context.Context, string, string, ...any) error { return nil }
func (f *fakeTransport) EmitToChannel(context.Context, string, string, ...any) error {
	return nil
}
func (f *fakeTransport) EmitToChannelExceptSender(context.Context, string, string, string, ...any) error {
	return nil
}
func (f *fakeTransport) JoinChannel(context.Context, string, string) error  { return nil }
func (f *fakeTransport) LeaveChannel(context.Context, string, string) error { return nil }
func (f *fakeTransport) Disconnect(context.Context, string) error           { return nil }
func (f *fakeTransport) Close() error                                       { return nil }

func (f *fakeTransport) Broadcast(_ context.Context, payload []byte) error {
	if f.handler != nil {
		f.handler(payload, f.InstanceID())
	}
	return nil
}

func (f *fakeTransport) OnBroadcast(h transport.BroadcastHandler) { f.handler = h }

var _ transport.Transport = (*fakeTransport)(nil)

func TestRequestRoomLeaveSucceedsOnEcho(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTransport{}
	b := New(ctx, ft, time.Second)

	var gotSocket, gotRoom string
	b.OnRoomLeave(func(_ context.Context, socketID, roomName string) error {
		gotSocket, gotRoom = socketID, roomName
		return nil
	})

	if err := b.RequestRoomLeave(ctx, "sock-1", "general"); err != nil {
		t.Fatalf("RequestRoomLeave: %v", err)
	}
	if gotSocket != "sock-1" || gotRoom != "general" {
		t.Errorf("handler saw (%q, %q)", gotSocket, gotRoom)
	}
}

func TestRequestRoomLeaveTimesOutWithoutHandler(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTransport{}
	b := New(ctx, ft, 20*time.Millisecond)
	// No OnRoomLeave registered: handlePacket sees pkt.Event but b.onRoomLeave
	// is nil, so no echo is ever published and the waiter times out.

	err := b.RequestRoomLeave(ctx, "sock-1", "general")
	if chaterr.KindOf(err) != chaterr.ServerError {
		t.Errorf("expected serverError on ack timeout, got %v", err)
	}
}

func TestRequestRoomLeavePropagatesHandlerFailureAsTimeout(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTransport{}
	b := New(ctx, ft, 20*time.Millisecond)
	b.OnRoomLeave(func(context.Context, string, string) error {
		return chaterr.New(chaterr.ServerError, "boom")
	})

	// A failing handler never publishes the socketRoomLeft echo, so the
	// caller observes the same ack timeout as an unreachable instance would.
	err := b.RequestRoomLeave(ctx, "sock-1", "general")
	if chaterr.KindOf(err) != chaterr.ServerError {
		t.Errorf("expected serverError, got %v", err)
	}
}

func TestNotifyDisconnectUserSocketsInvokesHandler(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTransport{}
	b := New(ctx, ft, time.Second)

	done := make(chan string, 1)
	b.OnDisconnect(func(_ context.Context, userName string) { done <- userName })

	if err := b.NotifyDisconnectUserSockets(ctx, "alice"); err != nil {
		t.Fatalf("NotifyDisconnectUserSockets: %v", err)
	}

	select {
	case name := <-done:
		if name != "alice" {
			t.Errorf("expected alice, got %q", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for disconnect handler")
	}
}

func TestNotifyDisconnectUserSocketsWithoutHandlerIsSilentNoop(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTransport{}
	b := New(ctx, ft, time.Second)

	if err := b.NotifyDisconnectUserSockets(ctx, "nobody"); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
}
