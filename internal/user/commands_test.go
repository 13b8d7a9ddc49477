package user

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"chatcore/internal/chaterr"
	"chatcore/internal/store"
	"chatcore/internal/transport"
)

// fakeSocketTransport is a single-instance, in-memory transport.Transport
// good enough to exercise the command table end to end: it tracks channel
// membership and records every emit so tests can assert exactly who got
// what, mirroring the real wsocket.Wsocket's local fan-out without sockets.
type fakeSocketTransport struct {
	mu       sync.Mutex
	channels map[string]map[string]bool // channel -> socketID -> true
	events   []emittedEvent
	closed   map[string]bool
}

type emittedEvent struct {
	target string // channel name, or socket id for EmitToSocket
	except string
	event  string
	args   []any
}

func newFakeTransport() *fakeSocketTransport {
	return &fakeSocketTransport{channels: make(map[string]map[string]bool), closed: make(map[string]bool)}
}

func (f *fakeSocketTransport) InstanceID() string { return "instance-1" }

func (f *fakeSocketTransport) OnConnect(transport.ConnectHandler)       {}
func (f *fakeSocketTransport) OnCommand(transport.CommandHandler)       {}
func (f *fakeSocketTransport) OnDisconnect(transport.DisconnectHandler) {}
func (f *fakeSocketTransport) OnBroadcast(transport.BroadcastHandler)   {}

func (f *fakeSocketTransport) EmitToSocket(_ context.Context, socketID, event string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emittedEvent{target: socketID, event: event, args: args})
	return nil
}

func (f *fakeSocketTransport) EmitToChannel(_ context.Context, channel, event string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emittedEvent{target: channel, event: event, args: args})
	return nil
}

func (f *fakeSocketTransport) EmitToChannelExceptSender(_ context.Context, socketID, channel, event string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emittedEvent{target: channel, except: socketID, event: event, args: args})
	return nil
}

func (f *fakeSocketTransport) JoinChannel(_ context.Context, socketID, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.channels[channel]
	if !ok {
		m = make(map[string]bool)
		f.channels[channel] = m
	}
	m[socketID] = true
	return nil
}

func (f *fakeSocketTransport) LeaveChannel(_ context.Context, socketID, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels[channel], socketID)
	return nil
}

func (f *fakeSocketTransport) Disconnect(_ context.Context, socketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[socketID] = true
	return nil
}

func (f *fakeSocketTransport) Broadcast(context.Context, []byte) error { return nil }
func (f *fakeSocketTransport) Close() error                            { return nil }

func (f *fakeSocketTransport) inChannel(channel, socketID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[channel][socketID]
}

// eventsNamed returns every recorded event with the given name, in order.
func (f *fakeSocketTransport) eventsNamed(name string) []emittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emittedEvent
	for _, e := range f.events {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T, cfg Config) (*Service, store.StateStore, *fakeSocketTransport) {
	t.Helper()
	s := store.NewMemoryStore()
	tr := newFakeTransport()
	if cfg.HistoryMaxMessages == 0 {
		cfg.HistoryMaxMessages = 100
	}
	return New(s, tr, nil, nil, nil, cfg), s, tr
}

func login(t *testing.T, ctx context.Context, svc *Service, username, socketID string) {
	t.Helper()
	if err := svc.Login(ctx, socketID, username); err != nil {
		t.Fatalf("Login(%s): %v", username, err)
	}
}

// ack runs one command through the full hook pipeline, encoding each raw
// arg string as a JSON positional argument exactly as the wire would.
func ack(t *testing.T, svc *Service, username, socketID, cmd string, rawArgs ...string) transport.Ack {
	t.Helper()
	args := make([]json.RawMessage, len(rawArgs))
	for i, a := range rawArgs {
		args[i] = json.RawMessage(a)
	}
	return svc.HandleCommand(context.Background(), username, socketID, transport.Command{
		ID: "1", Name: cmd, Args: args,
	})
}

func jsonMsg(i int) string {
	return fmt.Sprintf(`{"textMessage":"msg%d"}`, i)
}

// -- end-to-end scenarios (§8) ------------------------------------------------

func TestScenarioJoinLeaveNotifications(t *testing.T) {
	ctx := context.Background()
	svc, st, tr := newTestService(t, Config{EnableUserlistUpdates: true})

	login(t, ctx, svc, "user1", "s1")
	login(t, ctx, svc, "user2", "s2")
	if err := st.AddRoom(ctx, "room1", nil, false, 10); err != nil {
		t.Fatalf("AddRoom: %v", err)
	}

	a := ack(t, svc, "user1", "s1", "roomJoin", `"room1"`)
	if a.Error != nil {
		t.Fatalf("user1 roomJoin: %v", a.Error)
	}
	list, err := st.RoomGetList(ctx, "room1", store.ListUserlist)
	if err != nil || len(list) != 1 || list[0] != "user1" {
		t.Fatalf("expected userlist [user1], got %v err=%v", list, err)
	}

	a = ack(t, svc, "user2", "s2", "roomJoin", `"room1"`)
	if a.Error != nil {
		t.Fatalf("user2 roomJoin: %v", a.Error)
	}

	joined := tr.eventsNamed("roomUserJoined")
	if len(joined) != 2 {
		t.Fatalf("expected 2 roomUserJoined (user1 then user2), got %d: %v", len(joined), joined)
	}
	last := joined[len(joined)-1]
	if last.args[0] != "room1" || last.args[1] != "user2" {
		t.Errorf("unexpected roomUserJoined args: %v", last.args)
	}

	// A second socket for an already-joined user must not re-fire
	// roomUserJoined: the user was already a member.
	login(t, ctx, svc, "user2", "s2b")
	a = ack(t, svc, "user2", "s2b", "roomJoin", `"room1"`)
	if a.Error != nil {
		t.Fatalf("user2 2nd socket roomJoin: %v", a.Error)
	}
	if joined := tr.eventsNamed("roomUserJoined"); len(joined) != 2 {
		t.Fatalf("expected still 2 roomUserJoined after 2nd socket join, got %d: %v", len(joined), joined)
	}

	a = ack(t, svc, "user2", "s2", "roomLeave", `"room1"`)
	if a.Error != nil {
		t.Fatalf("user2 roomLeave: %v", a.Error)
	}
	left := tr.eventsNamed("roomUserLeft")
	if len(left) != 1 || left[0].args[1] != "user2" {
		t.Fatalf("expected roomUserLeft for user2, got %v", left)
	}
}

func TestScenarioBlacklistEviction(t *testing.T) {
	ctx := context.Background()
	svc, st, tr := newTestService(t, Config{EnableRoomsManagement: true, EnableUserlistUpdates: true})

	login(t, ctx, svc, "owner", "s1")
	login(t, ctx, svc, "user2", "s2")

	a := ack(t, svc, "owner", "s1", "roomCreate", `"room1"`, `false`)
	if a.Error != nil {
		t.Fatalf("roomCreate: %v", a.Error)
	}
	if a := ack(t, svc, "user2", "s2", "roomJoin", `"room1"`); a.Error != nil {
		t.Fatalf("user2 roomJoin: %v", a.Error)
	}

	a = ack(t, svc, "owner", "s1", "roomAddToList", `"room1"`, `"blacklist"`, `["user2"]`)
	if a.Error != nil {
		t.Fatalf("roomAddToList blacklist: %v", a.Error)
	}

	removed := tr.eventsNamed("roomAccessRemoved")
	if len(removed) != 1 || removed[0].target != "user:user2" {
		t.Fatalf("expected roomAccessRemoved delivered to user2's channel, got %v", removed)
	}

	list, err := st.RoomGetList(ctx, "room1", store.ListUserlist)
	if err != nil {
		t.Fatalf("RoomGetList: %v", err)
	}
	for _, u := range list {
		if u == "user2" {
			t.Fatalf("expected user2 evicted from userlist, got %v", list)
		}
	}
	if tr.inChannel("room:room1", "s2") {
		t.Error("expected user2's socket to have left room1's channel")
	}
}

func TestScenarioWhitelistOnlyFlip(t *testing.T) {
	svc, _, tr := newTestService(t, Config{EnableRoomsManagement: true})

	login(t, context.Background(), svc, "owner", "s1")
	login(t, context.Background(), svc, "admin", "s2")
	login(t, context.Background(), svc, "plain", "s3")

	mustAck(t, ack(t, svc, "owner", "s1", "roomCreate", `"room1"`, `false`))
	mustAck(t, ack(t, svc, "admin", "s2", "roomJoin", `"room1"`))
	mustAck(t, ack(t, svc, "plain", "s3", "roomJoin", `"room1"`))
	mustAck(t, ack(t, svc, "owner", "s1", "roomAddToList", `"room1"`, `"adminlist"`, `["admin"]`))

	a := ack(t, svc, "owner", "s1", "roomSetWhitelistMode", `"room1"`, `true`)
	if a.Error != nil {
		t.Fatalf("roomSetWhitelistMode: %v", a.Error)
	}

	removed := tr.eventsNamed("roomAccessRemoved")
	if len(removed) != 1 || removed[0].target != "user:plain" {
		t.Fatalf("expected plain evicted, got %v", removed)
	}
}

func TestScenarioDirectMessageEcho(t *testing.T) {
	svc, _, tr := newTestService(t, Config{EnableDirectMessages: true})
	ctx := context.Background()

	login(t, ctx, svc, "user1", "s1")
	login(t, ctx, svc, "user1", "s2") // second socket, same user
	login(t, ctx, svc, "user2", "s3")

	a := ack(t, svc, "user1", "s1", "directMessage", `"user2"`, `{"textMessage":"hi"}`)
	if a.Error != nil {
		t.Fatalf("directMessage: %v", a.Error)
	}
	data, ok := a.Data.(map[string]any)
	if !ok || data["textMessage"] != "hi" || data["author"] != "user1" {
		t.Fatalf("unexpected ack data: %#v", a.Data)
	}

	echoes := tr.eventsNamed("directMessageEcho")
	if len(echoes) != 1 || echoes[0].except != "s1" || echoes[0].target != "user:user1" {
		t.Fatalf("expected one directMessageEcho excluding s1, got %v", echoes)
	}

	delivered := tr.eventsNamed("directMessage")
	if len(delivered) != 1 || delivered[0].target != "user:user2" || delivered[0].args[0] != "user1" {
		t.Fatalf("expected directMessage delivered to user2's channel, got %v", delivered)
	}
}

func TestScenarioHistoryBound(t *testing.T) {
	svc, st, _ := newTestService(t, Config{HistoryMaxMessages: 3})
	ctx := context.Background()

	login(t, ctx, svc, "user1", "s1")
	if err := st.AddRoom(ctx, "room1", nil, false, 3); err != nil {
		t.Fatalf("AddRoom: %v", err)
	}
	mustAck(t, ack(t, svc, "user1", "s1", "roomJoin", `"room1"`))

	for i := 0; i < 5; i++ {
		a := ack(t, svc, "user1", "s1", "roomMessage", `"room1"`, jsonMsg(i))
		if a.Error != nil {
			t.Fatalf("roomMessage %d: %v", i, a.Error)
		}
	}

	a := ack(t, svc, "user1", "s1", "roomHistory", `"room1"`)
	if a.Error != nil {
		t.Fatalf("roomHistory: %v", a.Error)
	}
	msgs, ok := a.Data.([]map[string]any)
	if !ok || len(msgs) != 3 {
		t.Fatalf("expected 3 buffered messages, got %#v", a.Data)
	}
	if msgs[0]["textMessage"] != "msg2" || msgs[2]["textMessage"] != "msg4" {
		t.Fatalf("expected last 3 messages in order, got %v", msgs)
	}
}

func TestFeatureGatesDisabledByDefault(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	login(t, context.Background(), svc, "user1", "s1")

	if a := ack(t, svc, "user1", "s1", "directMessage", `"user2"`, `{"textMessage":"hi"}`); errKind(a.Error) != chaterr.NotAllowed {
		t.Errorf("expected notAllowed with direct messages disabled, got %v", a.Error)
	}
	if a := ack(t, svc, "user1", "s1", "roomCreate", `"room1"`, `false`); errKind(a.Error) != chaterr.NotAllowed {
		t.Errorf("expected notAllowed with rooms management disabled, got %v", a.Error)
	}
}

func TestArityAndTypeErrors(t *testing.T) {
	svc, _, _ := newTestService(t, Config{EnableRoomsManagement: true})
	login(t, context.Background(), svc, "user1", "s1")

	if a := ack(t, svc, "user1", "s1", "roomJoin"); errKind(a.Error) != chaterr.WrongArgumentsCount {
		t.Errorf("expected wrongArgumentsCount for missing arg, got %v", a.Error)
	}
	if a := ack(t, svc, "user1", "s1", "roomJoin", `42`); errKind(a.Error) != chaterr.BadArgument {
		t.Errorf("expected badArgument for non-string room name, got %v", a.Error)
	}
	if a := ack(t, svc, "user1", "s1", "unknownCommand"); errKind(a.Error) != chaterr.BadArgument {
		t.Errorf("expected badArgument for unknown command, got %v", a.Error)
	}
}

func TestDisconnectLeavesAllRoomsOnlyWhenLastSocket(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, Config{})
	login(t, ctx, svc, "user1", "s1")
	login(t, ctx, svc, "user1", "s2")
	if err := st.AddRoom(ctx, "room1", nil, false, 10); err != nil {
		t.Fatalf("AddRoom: %v", err)
	}
	mustAck(t, ack(t, svc, "user1", "s1", "roomJoin", `"room1"`))

	svc.HandleDisconnect(ctx, "s1", "user1")
	// user1 still has s2: must still be online and still joined.
	if _, err := st.GetOnlineUser(ctx, "user1"); err != nil {
		t.Fatalf("expected user1 still online after one of two sockets disconnects: %v", err)
	}
	list, _ := st.RoomGetList(ctx, "room1", store.ListUserlist)
	found := false
	for _, u := range list {
		if u == "user1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected user1 still joined to room1, got %v", list)
	}

	svc.HandleDisconnect(ctx, "s2", "user1")
	if _, err := st.GetOnlineUser(ctx, "user1"); err == nil {
		t.Fatalf("expected user1 logged out after last socket disconnects")
	}
}

func mustAck(t *testing.T, a transport.Ack) {
	t.Helper()
	if a.Error != nil {
		t.Fatalf("unexpected error: %v", a.Error)
	}
}

// errKind extracts the Kind from a rendered Ack.Error, whatever wire shape
// it is in (plain string or chaterr.Raw), for configs that leave
// useRawErrorObjects at its zero value of false.
func errKind(v any) chaterr.Kind {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		// String() renders as "<kind>" or "<kind>: <args>".
		for i := 0; i < len(e); i++ {
			if e[i] == ':' {
				return chaterr.Kind(e[:i])
			}
		}
		return chaterr.Kind(e)
	case chaterr.Raw:
		return chaterr.Kind(e.Name)
	default:
		return ""
	}
}
