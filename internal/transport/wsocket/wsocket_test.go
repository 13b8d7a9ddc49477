package wsocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatcore/internal/transport"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandleUpgradeInvokesConnectHandler(t *testing.T) {
	w := New("instance-1", nil, "")
	connected := make(chan string, 1)
	w.OnConnect(func(_ context.Context, socketID string, query map[string]string) {
		connected <- query["name"]
	})

	srv := httptest.NewServer(http.HandlerFunc(w.HandleUpgrade))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?name=alice", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case name := <-connected:
		if name != "alice" {
			t.Errorf("expected query name alice, got %q", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for OnConnect")
	}
}

func TestCommandRoundTrip(t *testing.T) {
	w := New("instance-1", nil, "")
	w.OnCommand(func(_ context.Context, socketID string, cmd transport.Command) transport.Ack {
		if cmd.Name != "ping" {
			t.Errorf("unexpected command name %q", cmd.Name)
		}
		return transport.Ack{Data: "pong"}
	})

	srv := httptest.NewServer(http.HandlerFunc(w.HandleUpgrade))
	defer srv.Close()
	conn := dial(t, srv)

	if err := conn.WriteJSON(map[string]any{"id": "1", "name": "ping", "args": []any{}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var ack wireAck
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.ID != "1" {
		t.Errorf("expected ack id 1, got %q", ack.ID)
	}
	if ack.Data != "pong" {
		t.Errorf("expected ack data pong, got %v", ack.Data)
	}
}

func TestEmitToSocketUnknownReturnsInvalidSocket(t *testing.T) {
	w := New("instance-1", nil, "")
	if err := w.EmitToSocket(context.Background(), "nope", "event"); err != transport.ErrInvalidSocket {
		t.Errorf("expected ErrInvalidSocket, got %v", err)
	}
}

func TestJoinChannelAndEmitToChannelExceptSender(t *testing.T) {
	w := New("instance-1", nil, "")
	var socketIDs []string
	connected := make(chan struct{}, 2)
	w.OnConnect(func(_ context.Context, socketID string, _ map[string]string) {
		socketIDs = append(socketIDs, socketID)
		connected <- struct{}{}
	})

	srv := httptest.NewServer(http.HandlerFunc(w.HandleUpgrade))
	defer srv.Close()

	sender := dial(t, srv)
	receiver := dial(t, srv)
	<-connected
	<-connected

	ctx := context.Background()
	if err := w.JoinChannel(ctx, socketIDs[0], "room:general"); err != nil {
		t.Fatalf("JoinChannel sender: %v", err)
	}
	if err := w.JoinChannel(ctx, socketIDs[1], "room:general"); err != nil {
		t.Fatalf("JoinChannel receiver: %v", err)
	}

	if err := w.EmitToChannelExceptSender(ctx, socketIDs[0], "room:general", "roomMessage", "hi"); err != nil {
		t.Fatalf("EmitToChannelExceptSender: %v", err)
	}

	var ev wireEvent
	receiver.SetReadDeadline(time.Now().Add(time.Second))
	if err := receiver.ReadJSON(&ev); err != nil {
		t.Fatalf("receiver read: %v", err)
	}
	if ev.Event != "roomMessage" {
		t.Errorf("expected roomMessage event, got %q", ev.Event)
	}

	sender.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if err := sender.ReadJSON(&ev); err == nil {
		t.Errorf("expected sender to receive nothing, got %+v", ev)
	}
}

func TestDisconnectInvokesDisconnectHandler(t *testing.T) {
	w := New("instance-1", nil, "")
	var socketIDs []string
	connected := make(chan struct{}, 1)
	disconnected := make(chan string, 1)
	w.OnConnect(func(_ context.Context, socketID string, _ map[string]string) {
		socketIDs = append(socketIDs, socketID)
		connected <- struct{}{}
	})
	w.OnDisconnect(func(socketID, reason string) { disconnected <- socketID })

	srv := httptest.NewServer(http.HandlerFunc(w.HandleUpgrade))
	defer srv.Close()
	conn := dial(t, srv)
	<-connected

	if err := w.Disconnect(context.Background(), socketIDs[0]); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case id := <-disconnected:
		if id != socketIDs[0] {
			t.Errorf("expected disconnect for %q, got %q", socketIDs[0], id)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for OnDisconnect")
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected client read to fail after server-initiated disconnect")
	}
}

func TestBroadcastSingleInstanceLocalLoopback(t *testing.T) {
	w := New("instance-1", nil, "")
	received := make(chan []byte, 1)
	w.OnBroadcast(func(payload []byte, sourceInstanceID string) {
		if sourceInstanceID != "instance-1" {
			t.Errorf("expected self source id, got %q", sourceInstanceID)
		}
		received <- payload
	})

	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	if err := w.Broadcast(context.Background(), payload); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Errorf("expected payload echoed, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for local broadcast loopback")
	}
}
