package state

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// RoomState is the mutable container backing a single room in the in-memory
// StateStore. It knows nothing about permissions (that is Room's job in
// package room); it only guarantees that each of its methods is atomic.
type RoomState struct {
	mu sync.RWMutex

	name          string
	owner         *string
	whitelistOnly bool
	userlist      mapset.Set[string]
	blacklist     mapset.Set[string]
	whitelist     mapset.Set[string]
	adminlist     mapset.Set[string]
	history       *History
}

// NewRoomState creates an empty room with the given owner (nil for none)
// and history capacity.
func NewRoomState(name string, owner *string, whitelistOnly bool, historyCap int) *RoomState {
	return &RoomState{
		name:          name,
		owner:         owner,
		whitelistOnly: whitelistOnly,
		userlist:      mapset.NewThreadUnsafeSet[string](),
		blacklist:     mapset.NewThreadUnsafeSet[string](),
		whitelist:     mapset.NewThreadUnsafeSet[string](),
		adminlist:     mapset.NewThreadUnsafeSet[string](),
		history:       NewHistory(historyCap),
	}
}

func (r *RoomState) listSet(list string) mapset.Set[string] {
	switch list {
	case "userlist":
		return r.userlist
	case "blacklist":
		return r.blacklist
	case "whitelist":
		return r.whitelist
	case "adminlist":
		return r.adminlist
	default:
		return nil
	}
}

// HasInList reports whether v is a member of the named list.
func (r *RoomState) HasInList(list, v string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.listSet(list)
	return s != nil && s.Contains(v)
}

// AddToList adds vs to the named list, ignoring values already present.
func (r *RoomState) AddToList(list string, vs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.listSet(list)
	if s == nil {
		return
	}
	for _, v := range vs {
		s.Add(v)
	}
}

// RemoveFromList removes vs from the named list.
func (r *RoomState) RemoveFromList(list string, vs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.listSet(list)
	if s == nil {
		return
	}
	for _, v := range vs {
		s.Remove(v)
	}
}

// GetList returns a snapshot of the named list.
func (r *RoomState) GetList(list string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.listSet(list)
	if s == nil {
		return nil
	}
	return s.ToSlice()
}

// WhitelistOnlyGet reports the current whitelist-only mode.
func (r *RoomState) WhitelistOnlyGet() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.whitelistOnly
}

// WhitelistOnlySet updates the whitelist-only mode.
func (r *RoomState) WhitelistOnlySet(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.whitelistOnly = v
}

// OwnerGet returns the room's owner, or nil if none.
func (r *RoomState) OwnerGet() *string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// OwnerSet updates the room's owner.
func (r *RoomState) OwnerSet(owner *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner = owner
}

// MessageAdd appends a message to history, evicting the oldest if full.
func (r *RoomState) MessageAdd(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history.Add(m)
}

// MessagesGet returns the buffered history, oldest first.
func (r *RoomState) MessagesGet() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.Snapshot()
}
