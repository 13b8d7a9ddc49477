// Package wsocket implements transport.Transport over gorilla/websocket for
// the local (same-instance) fan-out, and Redis Pub/Sub for the one
// operation that must cross instances: Broadcast. It generalizes the
// teacher's ws.Server/ws.Hub/ws.Connection trio (per-socket
// fromClient/fromServer channel pair, a Hub holding per-channel membership)
// from its fixed townhall/DM chat model to the spec's named-channel model.
package wsocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"chatcore/internal/transport"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// wireRequest is one command call as it arrives on the socket.
type wireRequest struct {
	ID   string            `json:"id"`
	Name string            `json:"name"`
	Args []json.RawMessage `json:"args"`
}

// wireAck is the envelope an ack is written back in.
type wireAck struct {
	ID    string `json:"id"`
	Error any    `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// wireEvent is the envelope a server-initiated emit is written in.
type wireEvent struct {
	Event string `json:"event"`
	Args  []any  `json:"args,omitempty"`
}

// clusterPacket is the one envelope shape published on the reserved Redis
// channel. Kind "cluster" carries an opaque ClusterBus payload through to
// broadcastHandler unchanged; kind "chanfanout" is wsocket's own mechanism
// for making EmitToChannel/EmitToChannelExceptSender reach sockets held by
// other instances, which Transport's contract doesn't otherwise provide for.
type clusterPacket struct {
	Kind             string `json:"kind"`
	SourceInstanceID string `json:"sourceInstanceId"`

	Payload []byte `json:"payload,omitempty"`

	Channel        string `json:"channel,omitempty"`
	Event          string `json:"event,omitempty"`
	Args           []any  `json:"args,omitempty"`
	ExceptSocketID string `json:"exceptSocketId,omitempty"`
}

const (
	packetKindCluster    = "cluster"
	packetKindChanFanout = "chanfanout"
)

type outbound struct {
	kind  string // "ack" or "event"
	ack   wireAck
	event wireEvent
}

type socketConn struct {
	id   string
	ws   *websocket.Conn
	send chan outbound
	mu   sync.Mutex // held by enqueue while sending
	once sync.Once
}

// Wsocket is the gorilla/websocket + Redis Pub/Sub Transport implementation.
type Wsocket struct {
	instanceID       string
	upgrader         websocket.Upgrader
	rdb              *redis.Client
	broadcastChannel string

	mu       sync.RWMutex
	sockets  map[string]*socketConn
	channels map[string]map[string]struct{} // channel -> socketIDs

	connectHandler    transport.ConnectHandler
	commandHandler    transport.CommandHandler
	disconnectHandler transport.DisconnectHandler
	broadcastHandler  transport.BroadcastHandler

	closeOnce sync.Once
	closeCh   chan struct{}
}

// New builds a Wsocket transport. rdb may be nil, in which case Broadcast
// calls this instance's own BroadcastHandler directly and synchronously
// (single-instance deployments).
func New(instanceID string, rdb *redis.Client, broadcastChannel string) *Wsocket {
	w := &Wsocket{
		instanceID:       instanceID,
		rdb:              rdb,
		broadcastChannel: broadcastChannel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sockets:  make(map[string]*socketConn),
		channels: make(map[string]map[string]struct{}),
		closeCh:  make(chan struct{}),
	}
	if rdb != nil {
		go w.subscribeLoop()
	}
	return w
}

func (w *Wsocket) InstanceID() string { return w.instanceID }

func (w *Wsocket) OnConnect(h transport.ConnectHandler)       { w.connectHandler = h }
func (w *Wsocket) OnCommand(h transport.CommandHandler)       { w.commandHandler = h }
func (w *Wsocket) OnDisconnect(h transport.DisconnectHandler) { w.disconnectHandler = h }
func (w *Wsocket) OnBroadcast(h transport.BroadcastHandler)   { w.broadcastHandler = h }

// HandleUpgrade is the http.HandlerFunc that accepts a new socket; mount it
// under the configured namespace path (§6).
func (w *Wsocket) HandleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	socketID := uuid.NewString()
	sc := &socketConn{
		id:   socketID,
		ws:   conn,
		send: make(chan outbound, 64),
	}

	w.mu.Lock()
	w.sockets[socketID] = sc
	w.mu.Unlock()

	query := map[string]string{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go w.writePump(sc)
	go func() {
		defer cancel()
		w.readPump(ctx, sc)
	}()

	if w.connectHandler != nil {
		go w.connectHandler(ctx, socketID, query)
	}
}

func (w *Wsocket) readPump(ctx context.Context, sc *socketConn) {
	reason := "closed"
	defer func() {
		w.removeSocket(sc.id)
		sc.once.Do(func() { close(sc.send) })
		_ = sc.ws.Close()
		if w.disconnectHandler != nil {
			w.disconnectHandler(sc.id, reason)
		}
	}()

	for {
		var req wireRequest
		if err := sc.ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = err.Error()
			}
			return
		}
		if w.commandHandler == nil {
			continue
		}
		ack := w.commandHandler(ctx, sc.id, transport.Command{ID: req.ID, Name: req.Name, Args: req.Args})
		w.enqueue(sc, outbound{kind: "ack", ack: wireAck{ID: req.ID, Error: ack.Error, Data: ack.Data}})
	}
}

func (w *Wsocket) writePump(sc *socketConn) {
	for msg := range sc.send {
		var err error
		switch msg.kind {
		case "ack":
			err = sc.ws.WriteJSON(msg.ack)
		case "event":
			err = sc.ws.WriteJSON(msg.event)
		}
		if err != nil {
			return
		}
	}
}

func (w *Wsocket) enqueue(sc *socketConn, msg outbound) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	select {
	case sc.send <- msg:
	default:
		// slow consumer: drop rather than block the read pump indefinitely.
	}
}

func (w *Wsocket) removeSocket(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sockets, id)
	for ch, members := range w.channels {
		delete(members, id)
		if len(members) == 0 {
			delete(w.channels, ch)
		}
	}
}

func (w *Wsocket) getSocket(id string) (*socketConn, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sc, ok := w.sockets[id]
	return sc, ok
}

func (w *Wsocket) EmitToSocket(_ context.Context, socketID, event string, args ...any) error {
	sc, ok := w.getSocket(socketID)
	if !ok {
		return transport.ErrInvalidSocket
	}
	w.enqueue(sc, outbound{kind: "event", event: wireEvent{Event: event, Args: args}})
	return nil
}

func (w *Wsocket) EmitToChannel(ctx context.Context, channel, event string, args ...any) error {
	w.emitLocalToChannel(channel, event, "", args)
	return w.publishChanFanout(ctx, channel, event, "", args)
}

func (w *Wsocket) EmitToChannelExceptSender(ctx context.Context, socketID, channel, event string, args ...any) error {
	w.emitLocalToChannel(channel, event, socketID, args)
	return w.publishChanFanout(ctx, channel, event, socketID, args)
}

// emitLocalToChannel delivers to this instance's own members of channel
// only; members held by other instances are reached via publishChanFanout.
func (w *Wsocket) emitLocalToChannel(channel, event, exceptSocketID string, args []any) {
	w.mu.RLock()
	members := make([]string, 0, len(w.channels[channel]))
	for id := range w.channels[channel] {
		if id == exceptSocketID {
			continue
		}
		members = append(members, id)
	}
	w.mu.RUnlock()

	for _, id := range members {
		if sc, ok := w.getSocket(id); ok {
			w.enqueue(sc, outbound{kind: "event", event: wireEvent{Event: event, Args: args}})
		}
	}
}

// publishChanFanout relays the emit to every other instance so their own
// local members of channel receive it too. A no-op in single-instance
// deployments (rdb == nil).
func (w *Wsocket) publishChanFanout(ctx context.Context, channel, event, exceptSocketID string, args []any) error {
	if w.rdb == nil {
		return nil
	}
	pkt := clusterPacket{
		Kind:             packetKindChanFanout,
		SourceInstanceID: w.instanceID,
		Channel:          channel,
		Event:            event,
		Args:             args,
		ExceptSocketID:   exceptSocketID,
	}
	b, err := json.Marshal(pkt)
	if err != nil {
		return err
	}
	return w.rdb.Publish(ctx, w.broadcastChannel, b).Err()
}

func (w *Wsocket) JoinChannel(_ context.Context, socketID, channel string) error {
	if _, ok := w.getSocket(socketID); !ok {
		return transport.ErrInvalidSocket
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	members, ok := w.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		w.channels[channel] = members
	}
	members[socketID] = struct{}{}
	return nil
}

func (w *Wsocket) LeaveChannel(_ context.Context, socketID, channel string) error {
	if _, ok := w.getSocket(socketID); !ok {
		return transport.ErrInvalidSocket
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if members, ok := w.channels[channel]; ok {
		delete(members, socketID)
		if len(members) == 0 {
			delete(w.channels, channel)
		}
	}
	return nil
}

func (w *Wsocket) Disconnect(_ context.Context, socketID string) error {
	sc, ok := w.getSocket(socketID)
	if !ok {
		return transport.ErrInvalidSocket
	}
	return sc.ws.Close()
}

func (w *Wsocket) Broadcast(ctx context.Context, payload []byte) error {
	if w.rdb == nil {
		if w.broadcastHandler != nil {
			w.broadcastHandler(payload, w.instanceID)
		}
		return nil
	}
	pkt := clusterPacket{Kind: packetKindCluster, SourceInstanceID: w.instanceID, Payload: payload}
	b, err := json.Marshal(pkt)
	if err != nil {
		return err
	}
	return w.rdb.Publish(ctx, w.broadcastChannel, b).Err()
}

func (w *Wsocket) subscribeLoop() {
	sub := w.rdb.Subscribe(context.Background(), w.broadcastChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-w.closeCh:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var pkt clusterPacket
			if err := json.Unmarshal([]byte(msg.Payload), &pkt); err != nil {
				slog.Warn("malformed cluster packet", "error", err)
				continue
			}
			switch pkt.Kind {
			case packetKindChanFanout:
				if pkt.SourceInstanceID == w.instanceID {
					continue // already delivered locally before publishing
				}
				w.emitLocalToChannel(pkt.Channel, pkt.Event, pkt.ExceptSocketID, pkt.Args)
			default:
				if w.broadcastHandler != nil {
					w.broadcastHandler(pkt.Payload, pkt.SourceInstanceID)
				}
			}
		}
	}
}

func (w *Wsocket) Close() error {
	w.closeOnce.Do(func() { close(w.closeCh) })

	w.mu.Lock()
	sockets := make([]*socketConn, 0, len(w.sockets))
	for _, sc := range w.sockets {
		sockets = append(sockets, sc)
	}
	w.mu.Unlock()

	for _, sc := range sockets {
		_ = sc.ws.Close()
	}

	if w.rdb != nil {
		return w.rdb.Close()
	}
	return nil
}

// WaitClosed blocks until d elapses or the transport is closed, whichever
// is first.
func (w *Wsocket) WaitClosed(d time.Duration) {
	select {
	case <-w.closeCh:
	case <-time.After(d):
	}
}

var _ transport.Transport = (*Wsocket)(nil)
