package store

import (
	"context"
	"sync"

	"chatcore/internal/state"

	"github.com/c-pro/geche"
)

// MemoryStore is the single-instance StateStore reference implementation.
// Rooms and users are held in c-pro/geche generic maps, the same cache
// primitive the teacher uses for auth.AuthService.users; each entry is a
// *state.RoomState/*state.UserState, which supplies its own locking, so a
// single StateStore call is atomic without MemoryStore itself taking a
// store-wide lock on the hot path.
type MemoryStore struct {
	mu        sync.Mutex // guards creation/deletion of entries, roomNames and userNames
	rooms     geche.Geche[string, *state.RoomState]
	users     geche.Geche[string, *state.UserState]
	roomNames map[string]struct{}
	userNames map[string]struct{}
}

var _ StateStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory StateStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:     geche.NewMapCache[string, *state.RoomState](),
		users:     geche.NewMapCache[string, *state.UserState](),
		roomNames: make(map[string]struct{}),
		userNames: make(map[string]struct{}),
	}
}

func (m *MemoryStore) GetRoom(_ context.Context, name string) (RoomSnapshot, error) {
	r, err := m.rooms.Get(name)
	if err != nil {
		return RoomSnapshot{}, ErrNotFound
	}
	return snapshotRoom(r), nil
}

func snapshotRoom(r *state.RoomState) RoomSnapshot {
	return RoomSnapshot{
		Owner:         r.OwnerGet(),
		WhitelistOnly: r.WhitelistOnlyGet(),
		Userlist:      r.GetList("userlist"),
		Blacklist:     r.GetList("blacklist"),
		Whitelist:     r.GetList("whitelist"),
		Adminlist:     r.GetList("adminlist"),
	}
}

func (m *MemoryStore) AddRoom(_ context.Context, name string, owner *string, whitelistOnly bool, historyMax int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.rooms.Get(name); err == nil {
		return ErrAlreadyExists
	}
	rs := state.NewRoomState(name, owner, whitelistOnly, historyMax)
	if owner != nil {
		rs.AddToList("userlist", []string{*owner})
	}
	m.rooms.Set(name, rs)
	m.roomNames[name] = struct{}{}
	return nil
}

func (m *MemoryStore) RemoveRoom(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.rooms.Get(name); err != nil {
		return ErrNotFound
	}
	delete(m.roomNames, name)
	return m.rooms.Del(name)
}

func (m *MemoryStore) ListRooms(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.roomNames))
	for n := range m.roomNames {
		names = append(names, n)
	}
	return names, nil
}

func (m *MemoryStore) roomOrErr(name string) (*state.RoomState, error) {
	r, err := m.rooms.Get(name)
	if err != nil {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) RoomHasInList(_ context.Context, room string, list List, v string) (bool, error) {
	r, err := m.roomOrErr(room)
	if err != nil {
		return false, err
	}
	return r.HasInList(string(list), v), nil
}

func (m *MemoryStore) RoomAddToList(_ context.Context, room string, list List, vs []string) error {
	r, err := m.roomOrErr(room)
	if err != nil {
		return err
	}
	r.AddToList(string(list), vs)
	return nil
}

func (m *MemoryStore) RoomRemoveFromList(_ context.Context, room string, list List, vs []string) error {
	r, err := m.roomOrErr(room)
	if err != nil {
		return err
	}
	r.RemoveFromList(string(list), vs)
	return nil
}

func (m *MemoryStore) RoomGetList(_ context.Context, room string, list List) ([]string, error) {
	r, err := m.roomOrErr(room)
	if err != nil {
		return nil, err
	}
	return r.GetList(string(list)), nil
}

func (m *MemoryStore) RoomWhitelistOnlyGet(_ context.Context, room string) (bool, error) {
	r, err := m.roomOrErr(room)
	if err != nil {
		return false, err
	}
	return r.WhitelistOnlyGet(), nil
}

func (m *MemoryStore) RoomWhitelistOnlySet(_ context.Context, room string, v bool) error {
	r, err := m.roomOrErr(room)
	if err != nil {
		return err
	}
	r.WhitelistOnlySet(v)
	return nil
}

func (m *MemoryStore) RoomOwnerGet(_ context.Context, room string) (*string, error) {
	r, err := m.roomOrErr(room)
	if err != nil {
		return nil, err
	}
	return r.OwnerGet(), nil
}

func (m *MemoryStore) RoomOwnerSet(_ context.Context, room string, owner *string) error {
	r, err := m.roomOrErr(room)
	if err != nil {
		return err
	}
	r.OwnerSet(owner)
	return nil
}

func (m *MemoryStore) RoomMessageAdd(_ context.Context, room string, msg state.Message) error {
	r, err := m.roomOrErr(room)
	if err != nil {
		return err
	}
	r.MessageAdd(msg)
	return nil
}

func (m *MemoryStore) RoomMessagesGet(_ context.Context, room string) ([]state.Message, error) {
	r, err := m.roomOrErr(room)
	if err != nil {
		return nil, err
	}
	return r.MessagesGet(), nil
}

func (m *MemoryStore) LoginUser(_ context.Context, name string, socket state.SocketRef) (UserSnapshot, error) {
	m.mu.Lock()
	u, err := m.users.Get(name)
	if err != nil {
		u = state.NewUserState(name)
		m.users.Set(name, u)
	}
	m.userNames[name] = struct{}{}
	m.mu.Unlock()

	u.SocketAdd(socket)
	return snapshotUser(u), nil
}

func (m *MemoryStore) LogoutUser(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.users.Get(name); err != nil {
		return ErrNotFound
	}
	delete(m.userNames, name)
	return m.users.Del(name)
}

func (m *MemoryStore) GetOnlineUser(_ context.Context, name string) (UserSnapshot, error) {
	u, err := m.users.Get(name)
	if err != nil {
		return UserSnapshot{}, ErrNotFound
	}
	return snapshotUser(u), nil
}

func (m *MemoryStore) ListOnlineUsers(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.userNames))
	for n := range m.userNames {
		names = append(names, n)
	}
	return names, nil
}

func snapshotUser(u *state.UserState) UserSnapshot {
	return UserSnapshot{
		WhitelistOnly:    u.Direct.WhitelistOnlyGet(),
		DirectBlacklist:  u.Direct.GetList("blacklist"),
		DirectWhitelist:  u.Direct.GetList("whitelist"),
		Sockets:          u.SocketsGetAll(),
		Rooms:            u.RoomsGetAll(),
		PushSubscription: u.GetPushSubscription(),
	}
}

func (m *MemoryStore) userOrErr(name string) (*state.UserState, error) {
	u, err := m.users.Get(name)
	if err != nil {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) UserHasInList(_ context.Context, user string, list List, v string) (bool, error) {
	u, err := m.userOrErr(user)
	if err != nil {
		return false, err
	}
	return u.Direct.HasInList(string(list), v), nil
}

func (m *MemoryStore) UserAddToList(_ context.Context, user string, list List, vs []string) error {
	u, err := m.userOrErr(user)
	if err != nil {
		return err
	}
	u.Direct.AddToList(string(list), vs)
	return nil
}

func (m *MemoryStore) UserRemoveFromList(_ context.Context, user string, list List, vs []string) error {
	u, err := m.userOrErr(user)
	if err != nil {
		return err
	}
	u.Direct.RemoveFromList(string(list), vs)
	return nil
}

func (m *MemoryStore) UserGetList(_ context.Context, user string, list List) ([]string, error) {
	u, err := m.userOrErr(user)
	if err != nil {
		return nil, err
	}
	return u.Direct.GetList(string(list)), nil
}

func (m *MemoryStore) UserWhitelistOnlyGet(_ context.Context, user string) (bool, error) {
	u, err := m.userOrErr(user)
	if err != nil {
		return false, err
	}
	return u.Direct.WhitelistOnlyGet(), nil
}

func (m *MemoryStore) UserWhitelistOnlySet(_ context.Context, user string, v bool) error {
	u, err := m.userOrErr(user)
	if err != nil {
		return err
	}
	u.Direct.WhitelistOnlySet(v)
	return nil
}

func (m *MemoryStore) UserSetPushSubscription(_ context.Context, user string, sub *state.PushSubscription) error {
	u, err := m.userOrErr(user)
	if err != nil {
		return err
	}
	u.SetPushSubscription(sub)
	return nil
}

func (m *MemoryStore) SocketAdd(_ context.Context, user string, s state.SocketRef) error {
	u, err := m.userOrErr(user)
	if err != nil {
		return err
	}
	u.SocketAdd(s)
	return nil
}

func (m *MemoryStore) SocketRemove(_ context.Context, user string, s state.SocketRef) (int, error) {
	u, err := m.userOrErr(user)
	if err != nil {
		return 0, err
	}
	u.SocketRemove(s)
	return u.SocketCount(), nil
}

func (m *MemoryStore) SocketsGetAll(_ context.Context, user string) ([]state.SocketRef, error) {
	u, err := m.userOrErr(user)
	if err != nil {
		return nil, err
	}
	return u.SocketsGetAll(), nil
}

func (m *MemoryStore) RoomMembershipAdd(_ context.Context, user string, room string) error {
	u, err := m.userOrErr(user)
	if err != nil {
		return err
	}
	u.RoomAdd(room)
	return nil
}

func (m *MemoryStore) RoomMembershipRemove(_ context.Context, user string, room string) error {
	u, err := m.userOrErr(user)
	if err != nil {
		return err
	}
	u.RoomRemove(room)
	return nil
}

func (m *MemoryStore) RoomMembershipGetAll(_ context.Context, user string) ([]string, error) {
	u, err := m.userOrErr(user)
	if err != nil {
		return nil, err
	}
	return u.RoomsGetAll(), nil
}
