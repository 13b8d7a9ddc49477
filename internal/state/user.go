package state

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// SocketRef identifies a socket scoped by the instance that owns it.
type SocketRef struct {
	InstanceID string
	SocketID   string
}

// DirectMessagingState is the mutable per-user container for direct-message
// permissions: the blacklist/whitelist/whitelistOnly surface mirrored from
// RoomState but without adminlist/userlist/ownership, matching §4.4.
type DirectMessagingState struct {
	mu            sync.RWMutex
	whitelistOnly bool
	blacklist     mapset.Set[string]
	whitelist     mapset.Set[string]
}

func newDirectMessagingState() *DirectMessagingState {
	return &DirectMessagingState{
		blacklist: mapset.NewThreadUnsafeSet[string](),
		whitelist: mapset.NewThreadUnsafeSet[string](),
	}
}

func (d *DirectMessagingState) listSet(list string) mapset.Set[string] {
	switch list {
	case "blacklist":
		return d.blacklist
	case "whitelist":
		return d.whitelist
	default:
		return nil
	}
}

func (d *DirectMessagingState) HasInList(list, v string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := d.listSet(list)
	return s != nil && s.Contains(v)
}

func (d *DirectMessagingState) AddToList(list string, vs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.listSet(list)
	if s == nil {
		return
	}
	for _, v := range vs {
		s.Add(v)
	}
}

func (d *DirectMessagingState) RemoveFromList(list string, vs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.listSet(list)
	if s == nil {
		return
	}
	for _, v := range vs {
		s.Remove(v)
	}
}

func (d *DirectMessagingState) GetList(list string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := d.listSet(list)
	if s == nil {
		return nil
	}
	return s.ToSlice()
}

func (d *DirectMessagingState) WhitelistOnlyGet() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.whitelistOnly
}

func (d *DirectMessagingState) WhitelistOnlySet(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.whitelistOnly = v
}

// UserState is the mutable per-user container: direct-messaging permissions,
// the multi-socket presence set, and the set of rooms the user is logically
// joined to (once, regardless of how many sockets are in that room).
type UserState struct {
	mu sync.RWMutex

	name    string
	Direct  *DirectMessagingState
	sockets mapset.Set[SocketRef]
	rooms   mapset.Set[string]

	// PushSubscription, when non-nil, is the Web Push endpoint registered
	// for this user (§4.5 expansion, directSetPushSubscription).
	PushSubscription *PushSubscription
}

// PushSubscription is the Web Push delivery target for a fully-offline user.
type PushSubscription struct {
	Endpoint string
	P256DH   string
	Auth     string
}

// NewUserState creates an empty user with no sockets and no rooms joined.
func NewUserState(name string) *UserState {
	return &UserState{
		name:    name,
		Direct:  newDirectMessagingState(),
		sockets: mapset.NewThreadUnsafeSet[SocketRef](),
		rooms:   mapset.NewThreadUnsafeSet[string](),
	}
}

func (u *UserState) SocketAdd(s SocketRef) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sockets.Add(s)
}

func (u *UserState) SocketRemove(s SocketRef) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sockets.Remove(s)
}

func (u *UserState) SocketsGetAll() []SocketRef {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.sockets.ToSlice()
}

func (u *UserState) SocketCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.sockets.Cardinality()
}

func (u *UserState) RoomAdd(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rooms.Add(name)
}

func (u *UserState) RoomRemove(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rooms.Remove(name)
}

func (u *UserState) RoomsGetAll() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.rooms.ToSlice()
}

func (u *UserState) SetPushSubscription(sub *PushSubscription) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.PushSubscription = sub
}

func (u *UserState) GetPushSubscription() *PushSubscription {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.PushSubscription
}
