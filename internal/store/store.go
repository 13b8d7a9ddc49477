// Package store defines the StateStore abstraction the core consumes (§4.2)
// and its two reference implementations: an in-memory store for
// single-instance deployments and a Redis-backed store for multi-instance
// deployments. Both present identical semantics to callers.
package store

import (
	"context"
	"errors"

	"chatcore/internal/state"
)

// Sentinel errors returned by StateStore implementations. Callers (room,
// dm, user) translate these into the appropriate chaterr.Kind; the store
// itself never returns a chaterr value.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// List is one of the four room-list names, or one of the two direct-message
// list names (blacklist/whitelist are shared between both entities).
type List string

const (
	ListUserlist  List = "userlist"
	ListBlacklist List = "blacklist"
	ListWhitelist List = "whitelist"
	ListAdminlist List = "adminlist"
)

// RoomSnapshot is a point-in-time, disconnected copy of a room's state.
type RoomSnapshot struct {
	Name          string
	Owner         *string
	WhitelistOnly bool
	Userlist      []string
	Blacklist     []string
	Whitelist     []string
	Adminlist     []string
}

// UserSnapshot is a point-in-time, disconnected copy of a user's state.
type UserSnapshot struct {
	Name             string
	WhitelistOnly    bool
	DirectBlacklist  []string
	DirectWhitelist  []string
	Sockets          []state.SocketRef
	Rooms            []string
	PushSubscription *state.PushSubscription
}

// StateStore is the backing store for rooms, users, the online registry and
// the socket registry (§4.2). Every method is atomic at the granularity of
// a single call; composing several calls into a higher-level operation
// (Room, DirectMessaging, User) is the caller's responsibility and is
// explicitly not transactional (§5).
type StateStore interface {
	GetRoom(ctx context.Context, name string) (RoomSnapshot, error)
	AddRoom(ctx context.Context, name string, owner *string, whitelistOnly bool, historyMax int) error
	RemoveRoom(ctx context.Context, name string) error
	ListRooms(ctx context.Context) ([]string, error)

	RoomHasInList(ctx context.Context, room string, list List, v string) (bool, error)
	RoomAddToList(ctx context.Context, room string, list List, vs []string) error
	RoomRemoveFromList(ctx context.Context, room string, list List, vs []string) error
	RoomGetList(ctx context.Context, room string, list List) ([]string, error)
	RoomWhitelistOnlyGet(ctx context.Context, room string) (bool, error)
	RoomWhitelistOnlySet(ctx context.Context, room string, v bool) error
	RoomOwnerGet(ctx context.Context, room string) (*string, error)
	RoomOwnerSet(ctx context.Context, room string, owner *string) error
	RoomMessageAdd(ctx context.Context, room string, msg state.Message) error
	RoomMessagesGet(ctx context.Context, room string) ([]state.Message, error)

	// LoginUser creates-or-gets the named user and registers socket as one
	// of its sockets.
	LoginUser(ctx context.Context, name string, socket state.SocketRef) (UserSnapshot, error)
	// LogoutUser destroys the user record. Callers must only invoke this
	// once the user's presence set is empty (I4).
	LogoutUser(ctx context.Context, name string) error
	GetOnlineUser(ctx context.Context, name string) (UserSnapshot, error)
	// ListOnlineUsers returns the name of every user with at least one
	// registered socket, for the admin surface's user listing.
	ListOnlineUsers(ctx context.Context) ([]string, error)

	UserHasInList(ctx context.Context, user string, list List, v string) (bool, error)
	UserAddToList(ctx context.Context, user string, list List, vs []string) error
	UserRemoveFromList(ctx context.Context, user string, list List, vs []string) error
	UserGetList(ctx context.Context, user string, list List) ([]string, error)
	UserWhitelistOnlyGet(ctx context.Context, user string) (bool, error)
	UserWhitelistOnlySet(ctx context.Context, user string, v bool) error
	UserSetPushSubscription(ctx context.Context, user string, sub *state.PushSubscription) error

	SocketAdd(ctx context.Context, user string, s state.SocketRef) error
	SocketRemove(ctx context.Context, user string, s state.SocketRef) (remaining int, err error)
	SocketsGetAll(ctx context.Context, user string) ([]state.SocketRef, error)

	RoomMembershipAdd(ctx context.Context, user string, room string) error
	RoomMembershipRemove(ctx context.Context, user string, room string) error
	RoomMembershipGetAll(ctx context.Context, user string) ([]string, error)
}
