package user

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"chatcore/internal/chaterr"
	"chatcore/internal/state"
	"chatcore/internal/store"
)

// buildCommandTable returns the full §4.5 command surface, plus this
// expansion's two additions (directSetPushSubscription, attachments on
// roomMessage/directMessage). Every entry's decode enforces arity and
// argument types before the hook pipeline or exec ever runs (§4.5 step 1).
func (s *Service) buildCommandTable() map[string]commandSpec {
	return map[string]commandSpec{
		"directAddToList":        {decode: decodeStrStrs, exec: execDirectAddToList},
		"directRemoveFromList":   {decode: decodeStrStrs, exec: execDirectRemoveFromList},
		"directGetAccessList":    {decode: decodeStr1, exec: execDirectGetAccessList},
		"directGetWhitelistMode": {decode: decodeNone, exec: execDirectGetWhitelistMode},
		"directSetWhitelistMode": {decode: decodeBool1, exec: execDirectSetWhitelistMode},
		"directMessage":          {decode: decodeStrMsg, exec: execDirectMessage},

		"roomCreate":           {decode: decodeStrBool, exec: execRoomCreate},
		"roomDelete":           {decode: decodeStr1, exec: execRoomDelete},
		"roomJoin":             {decode: decodeStr1, exec: execRoomJoin},
		"roomLeave":            {decode: decodeStr1, exec: execRoomLeave},
		"roomMessage":          {decode: decodeStrMsg, exec: execRoomMessage},
		"roomAddToList":        {decode: decodeStrStrStrs, exec: execRoomAddToList},
		"roomRemoveFromList":   {decode: decodeStrStrStrs, exec: execRoomRemoveFromList},
		"roomGetAccessList":    {decode: decodeStrStr, exec: execRoomGetAccessList},
		"roomGetWhitelistMode": {decode: decodeStr1, exec: execRoomGetWhitelistMode},
		"roomSetWhitelistMode": {decode: decodeStrBool, exec: execRoomSetWhitelistMode},
		"roomHistory":          {decode: decodeStr1, exec: execRoomHistory},

		"listRooms":  {decode: decodeNone, exec: execListRooms},
		"disconnect": {decode: decodeStr1, exec: execDisconnect},

		"directSetPushSubscription": {decode: decodeStr3, exec: execSetPushSubscription},
	}
}

// -- decode helpers --------------------------------------------------------
//
// Each returns the decoded positional arguments as []any, in the order the
// corresponding exec function expects them.

func decodeNone(args []json.RawMessage) ([]any, error) {
	if err := checkArity(args, 0); err != nil {
		return nil, err
	}
	return []any{}, nil
}

func decodeStr1(args []json.RawMessage) ([]any, error) {
	if err := checkArity(args, 1); err != nil {
		return nil, err
	}
	s, err := decodeString(args[0])
	if err != nil {
		return nil, err
	}
	return []any{s}, nil
}

func decodeBool1(args []json.RawMessage) ([]any, error) {
	if err := checkArity(args, 1); err != nil {
		return nil, err
	}
	b, err := decodeBool(args[0])
	if err != nil {
		return nil, err
	}
	return []any{b}, nil
}

func decodeStrStr(args []json.RawMessage) ([]any, error) {
	if err := checkArity(args, 2); err != nil {
		return nil, err
	}
	a, err := decodeString(args[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeString(args[1])
	if err != nil {
		return nil, err
	}
	return []any{a, b}, nil
}

func decodeStr3(args []json.RawMessage) ([]any, error) {
	if err := checkArity(args, 3); err != nil {
		return nil, err
	}
	a, err := decodeString(args[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeString(args[1])
	if err != nil {
		return nil, err
	}
	c, err := decodeString(args[2])
	if err != nil {
		return nil, err
	}
	return []any{a, b, c}, nil
}

func decodeStrBool(args []json.RawMessage) ([]any, error) {
	if err := checkArity(args, 2); err != nil {
		return nil, err
	}
	a, err := decodeString(args[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeBool(args[1])
	if err != nil {
		return nil, err
	}
	return []any{a, b}, nil
}

func decodeStrStrs(args []json.RawMessage) ([]any, error) {
	if err := checkArity(args, 2); err != nil {
		return nil, err
	}
	a, err := decodeString(args[0])
	if err != nil {
		return nil, err
	}
	vs, err := decodeStringSlice(args[1])
	if err != nil {
		return nil, err
	}
	return []any{a, vs}, nil
}

func decodeStrStrStrs(args []json.RawMessage) ([]any, error) {
	if err := checkArity(args, 3); err != nil {
		return nil, err
	}
	a, err := decodeString(args[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeString(args[1])
	if err != nil {
		return nil, err
	}
	vs, err := decodeStringSlice(args[2])
	if err != nil {
		return nil, err
	}
	return []any{a, b, vs}, nil
}

func decodeStrMsg(args []json.RawMessage) ([]any, error) {
	if err := checkArity(args, 2); err != nil {
		return nil, err
	}
	a, err := decodeString(args[0])
	if err != nil {
		return nil, err
	}
	m, err := decodeMsg(args[1])
	if err != nil {
		return nil, err
	}
	return []any{a, m}, nil
}

// requireEnabled fails notAllowed when a feature gate is off (§4.5 "Feature
// gates": enableDirectMessages and enableRoomsManagement fail the command
// outright when disabled). enableUserlistUpdates is handled separately,
// inline at each notification site, since it suppresses a notification
// rather than the command itself.
func requireEnabled(on bool) error {
	if !on {
		return chaterr.New(chaterr.NotAllowed)
	}
	return nil
}

// -- direct messaging commands ---------------------------------------------

func execDirectAddToList(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableDirectMessages); err != nil {
		return nil, err
	}
	listName, vs := args[0].(string), args[1].([]string)
	if err := s.dm.AddToList(ctx, username, listName, vs); err != nil {
		return nil, err
	}
	return nil, nil
}

func execDirectRemoveFromList(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableDirectMessages); err != nil {
		return nil, err
	}
	listName, vs := args[0].(string), args[1].([]string)
	if err := s.dm.RemoveFromList(ctx, username, listName, vs); err != nil {
		return nil, err
	}
	return nil, nil
}

func execDirectGetAccessList(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableDirectMessages); err != nil {
		return nil, err
	}
	return s.dm.GetList(ctx, username, args[0].(string))
}

func execDirectGetWhitelistMode(ctx context.Context, s *Service, username, _ string, _ []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableDirectMessages); err != nil {
		return nil, err
	}
	return s.dm.GetWhitelistMode(ctx, username)
}

func execDirectSetWhitelistMode(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableDirectMessages); err != nil {
		return nil, err
	}
	if err := s.dm.SetWhitelistMode(ctx, username, args[0].(bool)); err != nil {
		return nil, err
	}
	return nil, nil
}

func execDirectMessage(ctx context.Context, s *Service, username, socketID string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableDirectMessages); err != nil {
		return nil, err
	}
	toUser, in := args[0].(string), args[1].(wireMsgIn)

	msg, err := s.buildMessage(ctx, username, in)
	if err != nil {
		return nil, err
	}
	stored, err := s.dm.Message(ctx, username, toUser, msg)
	if err != nil {
		return nil, err
	}

	out := wireMsgOut(stored)
	s.echoOtherSockets(ctx, username, socketID, "directMessageEcho", toUser, out)
	s.deliverDirectMessage(ctx, username, toUser, out)
	return out, nil
}

func execSetPushSubscription(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnablePushNotifications); err != nil {
		return nil, err
	}
	endpoint, p256dh, authKey := args[0].(string), args[1].(string), args[2].(string)
	if endpoint == "" {
		return nil, chaterr.New(chaterr.BadArgument)
	}
	sub := &state.PushSubscription{Endpoint: endpoint, P256DH: p256dh, Auth: authKey}
	if err := s.store.UserSetPushSubscription(ctx, username, sub); err != nil {
		return nil, chaterr.Wrap(err)
	}
	return nil, nil
}

// deliverDirectMessage fans directMessage out to every socket of to (local
// or remote, via its user echo channel) and, when to currently holds no
// socket anywhere and has a registered push subscription, best-effort
// delivers a Web Push notification (§4.4 expansion). The subscription lives
// on to's online record, which LogoutUser deletes with the last socket, so a
// fully logged-out recipient gets no push (CheckAccess already fails
// noUserOnline for one); a push goes out only while the record exists with
// no socket registered. Never returns an error:
// push delivery is fire-and-forget and must never fail the sender's ack.
func (s *Service) deliverDirectMessage(ctx context.Context, from, to string, out map[string]any) {
	if err := s.transport.EmitToChannel(ctx, userChannel(to), "directMessage", from, out); err != nil {
		slog.Warn("directMessage fan-out failed", "to", to, "error", err)
	}
	if s.push == nil || !s.cfg.EnablePushNotifications {
		return
	}
	sockets, err := s.store.SocketsGetAll(ctx, to)
	if err != nil || len(sockets) > 0 {
		return
	}
	snap, err := s.store.GetOnlineUser(ctx, to)
	if err != nil || snap.PushSubscription == nil {
		return
	}
	s.push.Send(ctx, snap.PushSubscription, from)
}

// buildMessage decodes and validates an incoming wire message's attachments
// (if any) and server-assigns timestamp/author, producing the state.Message
// Room.Message/DirectMessaging.Message expect.
func (s *Service) buildMessage(ctx context.Context, author string, in wireMsgIn) (state.Message, error) {
	uploads, err := decodeAttachments(in.Attachments)
	if err != nil {
		return state.Message{}, err
	}
	attachments, err := s.processAttachments(ctx, uploads, s.cfg.AttachmentsMaxBytes)
	if err != nil {
		return state.Message{}, err
	}
	return state.Message{
		TextMessage: in.TextMessage,
		Timestamp:   time.Now().UnixMilli(),
		Author:      author,
		Attachments: attachments,
	}, nil
}

// -- room commands -----------------------------------------------------------

func execRoomCreate(ctx context.Context, s *Service, username, socketID string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableRoomsManagement); err != nil {
		return nil, err
	}
	roomName, whitelistOnly := args[0].(string), args[1].(bool)
	if err := s.room.Create(ctx, roomName, username, whitelistOnly, s.cfg.HistoryMaxMessages); err != nil {
		return nil, err
	}
	if err := s.store.RoomMembershipAdd(ctx, username, roomName); err != nil {
		slog.Warn("roomCreate: membership add failed", "room", roomName, "user", username, "error", err)
	}
	if err := s.transport.JoinChannel(ctx, socketID, roomChannel(roomName)); err != nil {
		slog.Warn("roomCreate: join channel failed", "room", roomName, "user", username, "error", err)
	}
	return nil, nil
}

func execRoomDelete(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableRoomsManagement); err != nil {
		return nil, err
	}
	roomName := args[0].(string)
	members, _ := s.store.RoomGetList(ctx, roomName, store.ListUserlist)
	if err := s.room.Delete(ctx, roomName, username); err != nil {
		return nil, err
	}
	for _, u := range members {
		if err := s.store.RoomMembershipRemove(ctx, u, roomName); err != nil {
			slog.Warn("roomDelete: membership removal failed", "room", roomName, "user", u, "error", err)
		}
		s.leaveChannelEverywhere(ctx, u, roomName)
	}
	return nil, nil
}

func execRoomJoin(ctx context.Context, s *Service, username, socketID string, args []any) (any, error) {
	roomName := args[0].(string)
	newlyJoined, err := s.room.Join(ctx, roomName, username)
	if err != nil {
		return nil, err
	}
	if err := s.store.RoomMembershipAdd(ctx, username, roomName); err != nil {
		slog.Warn("roomJoin: membership add failed", "room", roomName, "user", username, "error", err)
	}
	if err := s.transport.JoinChannel(ctx, socketID, roomChannel(roomName)); err != nil {
		slog.Warn("roomJoin: join channel failed", "room", roomName, "user", username, "error", err)
	}
	if s.cfg.EnableUserlistUpdates && newlyJoined {
		_ = s.transport.EmitToChannelExceptSender(ctx, socketID, roomChannel(roomName), "roomUserJoined", roomName, username)
	}
	s.echoOtherSockets(ctx, username, socketID, "roomJoinedEcho", roomName)
	return nil, nil
}

func execRoomLeave(ctx context.Context, s *Service, username, socketID string, args []any) (any, error) {
	roomName := args[0].(string)
	if err := s.leaveRoom(ctx, roomName, username); err != nil {
		return nil, err
	}
	s.echoOtherSockets(ctx, username, socketID, "roomLeftEcho", roomName)
	return nil, nil
}

func execRoomMessage(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	roomName, in := args[0].(string), args[1].(wireMsgIn)
	msg, err := s.buildMessage(ctx, username, in)
	if err != nil {
		return nil, err
	}
	stored, err := s.room.Message(ctx, roomName, username, msg)
	if err != nil {
		return nil, err
	}
	out := wireMsgOut(stored)
	if err := s.transport.EmitToChannel(ctx, roomChannel(roomName), "roomMessage", roomName, username, out); err != nil {
		slog.Warn("roomMessage fan-out failed", "room", roomName, "error", err)
	}
	return out, nil
}

func execRoomAddToList(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableRoomsManagement); err != nil {
		return nil, err
	}
	roomName, listName, vs := args[0].(string), args[1].(string), args[2].([]string)
	lost, err := s.room.AddToList(ctx, roomName, username, listName, vs)
	if err != nil {
		return nil, err
	}
	s.evictLostAccess(ctx, roomName, lost)
	return nil, nil
}

func execRoomRemoveFromList(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableRoomsManagement); err != nil {
		return nil, err
	}
	roomName, listName, vs := args[0].(string), args[1].(string), args[2].([]string)
	lost, err := s.room.RemoveFromList(ctx, roomName, username, listName, vs)
	if err != nil {
		return nil, err
	}
	s.evictLostAccess(ctx, roomName, lost)
	return nil, nil
}

func execRoomGetAccessList(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableRoomsManagement); err != nil {
		return nil, err
	}
	roomName, listName := args[0].(string), args[1].(string)
	return s.room.GetList(ctx, roomName, username, listName)
}

func execRoomGetWhitelistMode(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableRoomsManagement); err != nil {
		return nil, err
	}
	return s.room.GetMode(ctx, args[0].(string), username)
}

func execRoomSetWhitelistMode(ctx context.Context, s *Service, username, _ string, args []any) (any, error) {
	if err := requireEnabled(s.cfg.EnableRoomsManagement); err != nil {
		return nil, err
	}
	roomName, mode := args[0].(string), args[1].(bool)
	lost, err := s.room.ChangeMode(ctx, roomName, username, mode)
	if err != nil {
		return nil, err
	}
	s.evictLostAccess(ctx, roomName, lost)
	return nil, nil
}

func execRoomHistory(ctx context.Context, s *Service, _, _ string, args []any) (any, error) {
	msgs, err := s.room.History(ctx, args[0].(string))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		out[i] = wireMsgOut(m)
	}
	return out, nil
}

func execListRooms(ctx context.Context, s *Service, _, _ string, _ []any) (any, error) {
	names, err := s.store.ListRooms(ctx)
	if err != nil {
		return nil, chaterr.Wrap(err)
	}
	return names, nil
}

// execDisconnect runs the §4.5 "disconnect handling" sequence for the
// originating socket. It does not itself tear the transport connection
// down; the client is expected to close its own socket after the ack, and
// the transport's DisconnectHandler runs this same cleanup (idempotently)
// if the socket instead disappears without an explicit disconnect call.
func execDisconnect(ctx context.Context, s *Service, username, socketID string, _ []any) (any, error) {
	s.HandleDisconnect(ctx, socketID, username)
	return nil, nil
}
