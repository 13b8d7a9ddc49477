package store

import (
	"context"
	"fmt"

	"chatcore/internal/state"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisStore is the multi-instance StateStore reference implementation.
// Every method call is one (or a handful of) round trips to Redis so that a
// single call is atomic even when other server instances are mutating the
// same room or user concurrently; Redis's own SADD/SREM/SISMEMBER already
// give set-level atomicity, and room/user metadata is a single msgpack blob
// read-modified-written inside a WATCH transaction (same optimistic-lock
// shape as a bbolt db.Update transaction in the teacher's storage package,
// just over the network instead of a local file).
type RedisStore struct {
	rdb *redis.Client
}

var _ StateStore = (*RedisStore)(nil)

// NewRedisStore wraps an already-configured redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

type roomMeta struct {
	Owner         *string `msgpack:"owner"`
	WhitelistOnly bool    `msgpack:"whitelistOnly"`
	HistoryMax    int     `msgpack:"historyMax"`
}

type userMeta struct {
	WhitelistOnly    bool                    `msgpack:"whitelistOnly"`
	PushSubscription *state.PushSubscription `msgpack:"pushSubscription,omitempty"`
}

const (
	keyRooms      = "chatcore:rooms"
	keyOnlineUser = "chatcore:online"
)

func roomMetaKey(room string) string   { return fmt.Sprintf("chatcore:room:%s:meta", room) }
func roomListKey(room, l string) string {
	return fmt.Sprintf("chatcore:room:%s:list:%s", room, l)
}
func roomHistoryKey(room string) string { return fmt.Sprintf("chatcore:room:%s:history", room) }

func userMetaKey(user string) string   { return fmt.Sprintf("chatcore:user:%s:meta", user) }
func userListKey(user, l string) string {
	return fmt.Sprintf("chatcore:user:%s:list:%s", user, l)
}
func userSocketsKey(user string) string { return fmt.Sprintf("chatcore:user:%s:sockets", user) }
func userRoomsKey(user string) string   { return fmt.Sprintf("chatcore:user:%s:rooms", user) }

func encodeRoomMeta(m roomMeta) ([]byte, error) { return msgpack.Marshal(&m) }
func decodeRoomMeta(b []byte) (roomMeta, error) {
	var m roomMeta
	err := msgpack.Unmarshal(b, &m)
	return m, err
}

func encodeUserMeta(m userMeta) ([]byte, error) { return msgpack.Marshal(&m) }
func decodeUserMeta(b []byte) (userMeta, error) {
	var m userMeta
	err := msgpack.Unmarshal(b, &m)
	return m, err
}

func encodeSocket(s state.SocketRef) string { return s.InstanceID + "|" + s.SocketID }

func decodeSocket(v string) state.SocketRef {
	for i := 0; i < len(v); i++ {
		if v[i] == '|' {
			return state.SocketRef{InstanceID: v[:i], SocketID: v[i+1:]}
		}
	}
	return state.SocketRef{SocketID: v}
}

func (s *RedisStore) GetRoom(ctx context.Context, name string) (RoomSnapshot, error) {
	meta, err := s.getRoomMeta(ctx, name)
	if err != nil {
		return RoomSnapshot{}, err
	}

	snap := RoomSnapshot{Name: name, Owner: meta.Owner, WhitelistOnly: meta.WhitelistOnly}
	for _, l := range []struct {
		name string
		dest *[]string
	}{
		{"userlist", &snap.Userlist},
		{"blacklist", &snap.Blacklist},
		{"whitelist", &snap.Whitelist},
		{"adminlist", &snap.Adminlist},
	} {
		vs, err := s.rdb.SMembers(ctx, roomListKey(name, l.name)).Result()
		if err != nil {
			return RoomSnapshot{}, err
		}
		*l.dest = vs
	}
	return snap, nil
}

func (s *RedisStore) getRoomMeta(ctx context.Context, name string) (roomMeta, error) {
	b, err := s.rdb.Get(ctx, roomMetaKey(name)).Bytes()
	if err == redis.Nil {
		return roomMeta{}, ErrNotFound
	}
	if err != nil {
		return roomMeta{}, err
	}
	return decodeRoomMeta(b)
}

func (s *RedisStore) AddRoom(ctx context.Context, name string, owner *string, whitelistOnly bool, historyMax int) error {
	data, err := encodeRoomMeta(roomMeta{Owner: owner, WhitelistOnly: whitelistOnly, HistoryMax: historyMax})
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, roomMetaKey(name), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}
	if err := s.rdb.SAdd(ctx, keyRooms, name).Err(); err != nil {
		return err
	}
	if owner != nil {
		if err := s.rdb.SAdd(ctx, roomListKey(name, "userlist"), *owner).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) RemoveRoom(ctx context.Context, name string) error {
	if _, err := s.getRoomMeta(ctx, name); err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, roomMetaKey(name))
	pipe.Del(ctx, roomHistoryKey(name))
	for _, l := range []string{"userlist", "blacklist", "whitelist", "adminlist"} {
		pipe.Del(ctx, roomListKey(name, l))
	}
	pipe.SRem(ctx, keyRooms, name)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListRooms(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, keyRooms).Result()
}

func (s *RedisStore) ListOnlineUsers(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, keyOnlineUser).Result()
}

func (s *RedisStore) requireRoom(ctx context.Context, room string) error {
	n, err := s.rdb.Exists(ctx, roomMetaKey(room)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) RoomHasInList(ctx context.Context, room string, list List, v string) (bool, error) {
	if err := s.requireRoom(ctx, room); err != nil {
		return false, err
	}
	return s.rdb.SIsMember(ctx, roomListKey(room, string(list)), v).Result()
}

func (s *RedisStore) RoomAddToList(ctx context.Context, room string, list List, vs []string) error {
	if err := s.requireRoom(ctx, room); err != nil {
		return err
	}
	if len(vs) == 0 {
		return nil
	}
	members := make([]any, len(vs))
	for i, v := range vs {
		members[i] = v
	}
	return s.rdb.SAdd(ctx, roomListKey(room, string(list)), members...).Err()
}

func (s *RedisStore) RoomRemoveFromList(ctx context.Context, room string, list List, vs []string) error {
	if err := s.requireRoom(ctx, room); err != nil {
		return err
	}
	if len(vs) == 0 {
		return nil
	}
	members := make([]any, len(vs))
	for i, v := range vs {
		members[i] = v
	}
	return s.rdb.SRem(ctx, roomListKey(room, string(list)), members...).Err()
}

func (s *RedisStore) RoomGetList(ctx context.Context, room string, list List) ([]string, error) {
	if err := s.requireRoom(ctx, room); err != nil {
		return nil, err
	}
	return s.rdb.SMembers(ctx, roomListKey(room, string(list))).Result()
}

func (s *RedisStore) RoomWhitelistOnlyGet(ctx context.Context, room string) (bool, error) {
	m, err := s.getRoomMeta(ctx, room)
	if err != nil {
		return false, err
	}
	return m.WhitelistOnly, nil
}

func (s *RedisStore) RoomWhitelistOnlySet(ctx context.Context, room string, v bool) error {
	return s.mutateRoomMeta(ctx, room, func(m *roomMeta) { m.WhitelistOnly = v })
}

func (s *RedisStore) RoomOwnerGet(ctx context.Context, room string) (*string, error) {
	m, err := s.getRoomMeta(ctx, room)
	if err != nil {
		return nil, err
	}
	return m.Owner, nil
}

func (s *RedisStore) RoomOwnerSet(ctx context.Context, room string, owner *string) error {
	return s.mutateRoomMeta(ctx, room, func(m *roomMeta) { m.Owner = owner })
}

// mutateRoomMeta performs a read-modify-write of the room metadata blob
// inside a WATCH transaction, attempted up to three times on a concurrent
// writer, mirroring
// the single-call atomicity the in-memory store gets for free from its
// per-room mutex.
func (s *RedisStore) mutateRoomMeta(ctx context.Context, room string, mutate func(*roomMeta)) error {
	key := roomMetaKey(room)
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		m, err := decodeRoomMeta(b)
		if err != nil {
			return err
		}
		mutate(&m)
		data, err := encodeRoomMeta(m)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < 3; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("chatcore: room meta update lost the race too many times")
}

func (s *RedisStore) RoomMessageAdd(ctx context.Context, room string, msg state.Message) error {
	meta, err := s.getRoomMeta(ctx, room)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(&msg)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, roomHistoryKey(room), data)
	if meta.HistoryMax > 0 {
		pipe.LTrim(ctx, roomHistoryKey(room), int64(-meta.HistoryMax), -1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RoomMessagesGet(ctx context.Context, room string) ([]state.Message, error) {
	if err := s.requireRoom(ctx, room); err != nil {
		return nil, err
	}
	raw, err := s.rdb.LRange(ctx, roomHistoryKey(room), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]state.Message, 0, len(raw))
	for _, r := range raw {
		var m state.Message
		if err := msgpack.Unmarshal([]byte(r), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) LoginUser(ctx context.Context, name string, socket state.SocketRef) (UserSnapshot, error) {
	data, err := encodeUserMeta(userMeta{})
	if err != nil {
		return UserSnapshot{}, err
	}
	if err := s.rdb.SetNX(ctx, userMetaKey(name), data, 0).Err(); err != nil {
		return UserSnapshot{}, err
	}
	if err := s.rdb.SAdd(ctx, userSocketsKey(name), encodeSocket(socket)).Err(); err != nil {
		return UserSnapshot{}, err
	}
	if err := s.rdb.SAdd(ctx, keyOnlineUser, name).Err(); err != nil {
		return UserSnapshot{}, err
	}
	return s.GetOnlineUser(ctx, name)
}

func (s *RedisStore) LogoutUser(ctx context.Context, name string) error {
	if err := s.requireUser(ctx, name); err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, userMetaKey(name))
	pipe.Del(ctx, userSocketsKey(name))
	pipe.Del(ctx, userRoomsKey(name))
	for _, l := range []string{"blacklist", "whitelist"} {
		pipe.Del(ctx, userListKey(name, l))
	}
	pipe.SRem(ctx, keyOnlineUser, name)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) requireUser(ctx context.Context, name string) error {
	n, err := s.rdb.Exists(ctx, userMetaKey(name)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) GetOnlineUser(ctx context.Context, name string) (UserSnapshot, error) {
	b, err := s.rdb.Get(ctx, userMetaKey(name)).Bytes()
	if err == redis.Nil {
		return UserSnapshot{}, ErrNotFound
	}
	if err != nil {
		return UserSnapshot{}, err
	}
	meta, err := decodeUserMeta(b)
	if err != nil {
		return UserSnapshot{}, err
	}

	snap := UserSnapshot{Name: name, WhitelistOnly: meta.WhitelistOnly, PushSubscription: meta.PushSubscription}
	if snap.DirectBlacklist, err = s.rdb.SMembers(ctx, userListKey(name, "blacklist")).Result(); err != nil {
		return UserSnapshot{}, err
	}
	if snap.DirectWhitelist, err = s.rdb.SMembers(ctx, userListKey(name, "whitelist")).Result(); err != nil {
		return UserSnapshot{}, err
	}
	sockets, err := s.rdb.SMembers(ctx, userSocketsKey(name)).Result()
	if err != nil {
		return UserSnapshot{}, err
	}
	for _, sk := range sockets {
		snap.Sockets = append(snap.Sockets, decodeSocket(sk))
	}
	if snap.Rooms, err = s.rdb.SMembers(ctx, userRoomsKey(name)).Result(); err != nil {
		return UserSnapshot{}, err
	}
	return snap, nil
}

func (s *RedisStore) UserHasInList(ctx context.Context, user string, list List, v string) (bool, error) {
	if err := s.requireUser(ctx, user); err != nil {
		return false, err
	}
	return s.rdb.SIsMember(ctx, userListKey(user, string(list)), v).Result()
}

func (s *RedisStore) UserAddToList(ctx context.Context, user string, list List, vs []string) error {
	if err := s.requireUser(ctx, user); err != nil {
		return err
	}
	if len(vs) == 0 {
		return nil
	}
	members := make([]any, len(vs))
	for i, v := range vs {
		members[i] = v
	}
	return s.rdb.SAdd(ctx, userListKey(user, string(list)), members...).Err()
}

func (s *RedisStore) UserRemoveFromList(ctx context.Context, user string, list List, vs []string) error {
	if err := s.requireUser(ctx, user); err != nil {
		return err
	}
	if len(vs) == 0 {
		return nil
	}
	members := make([]any, len(vs))
	for i, v := range vs {
		members[i] = v
	}
	return s.rdb.SRem(ctx, userListKey(user, string(list)), members...).Err()
}

func (s *RedisStore) UserGetList(ctx context.Context, user string, list List) ([]string, error) {
	if err := s.requireUser(ctx, user); err != nil {
		return nil, err
	}
	return s.rdb.SMembers(ctx, userListKey(user, string(list))).Result()
}

func (s *RedisStore) UserWhitelistOnlyGet(ctx context.Context, user string) (bool, error) {
	snap, err := s.GetOnlineUser(ctx, user)
	if err != nil {
		return false, err
	}
	return snap.WhitelistOnly, nil
}

func (s *RedisStore) UserWhitelistOnlySet(ctx context.Context, user string, v bool) error {
	return s.mutateUserMeta(ctx, user, func(m *userMeta) { m.WhitelistOnly = v })
}

func (s *RedisStore) UserSetPushSubscription(ctx context.Context, user string, sub *state.PushSubscription) error {
	return s.mutateUserMeta(ctx, user, func(m *userMeta) { m.PushSubscription = sub })
}

func (s *RedisStore) mutateUserMeta(ctx context.Context, user string, mutate func(*userMeta)) error {
	key := userMetaKey(user)
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		m, err := decodeUserMeta(b)
		if err != nil {
			return err
		}
		mutate(&m)
		data, err := encodeUserMeta(m)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < 3; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("chatcore: user meta update lost the race too many times")
}

func (s *RedisStore) SocketAdd(ctx context.Context, user string, sock state.SocketRef) error {
	if err := s.requireUser(ctx, user); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, userSocketsKey(user), encodeSocket(sock)).Err()
}

func (s *RedisStore) SocketRemove(ctx context.Context, user string, sock state.SocketRef) (int, error) {
	if err := s.requireUser(ctx, user); err != nil {
		return 0, err
	}
	if err := s.rdb.SRem(ctx, userSocketsKey(user), encodeSocket(sock)).Err(); err != nil {
		return 0, err
	}
	n, err := s.rdb.SCard(ctx, userSocketsKey(user)).Result()
	return int(n), err
}

func (s *RedisStore) SocketsGetAll(ctx context.Context, user string) ([]state.SocketRef, error) {
	if err := s.requireUser(ctx, user); err != nil {
		return nil, err
	}
	raw, err := s.rdb.SMembers(ctx, userSocketsKey(user)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]state.SocketRef, 0, len(raw))
	for _, r := range raw {
		out = append(out, decodeSocket(r))
	}
	return out, nil
}

func (s *RedisStore) RoomMembershipAdd(ctx context.Context, user string, room string) error {
	if err := s.requireUser(ctx, user); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, userRoomsKey(user), room).Err()
}

func (s *RedisStore) RoomMembershipRemove(ctx context.Context, user string, room string) error {
	if err := s.requireUser(ctx, user); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, userRoomsKey(user), room).Err()
}

func (s *RedisStore) RoomMembershipGetAll(ctx context.Context, user string) ([]string, error) {
	if err := s.requireUser(ctx, user); err != nil {
		return nil, err
	}
	return s.rdb.SMembers(ctx, userRoomsKey(user)).Result()
}
