// Package room implements the permission-checked room operations of §4.3:
// join/leave, messaging, and the list-change protocol, all built on top of
// the StateStore abstraction. Room never touches a socket or a transport;
// User (package user) is the layer that turns a Room result into
// notifications.
package room

import (
	"context"
	"slices"

	"chatcore/internal/chaterr"
	"chatcore/internal/content"
	"chatcore/internal/state"
	"chatcore/internal/store"
	"chatcore/internal/validate"
)

// Room enforces access control before reading or mutating a RoomState via
// the backing StateStore.
type Room struct {
	store store.StateStore
}

// New builds a Room operations object over the given store.
func New(s store.StateStore) *Room {
	return &Room{store: s}
}

// Create validates the room name and creates it with owner as the initial
// (and initially sole) member. Fails roomExists if the name is taken.
func (r *Room) Create(ctx context.Context, name, owner string, whitelistOnly bool, historyMax int) error {
	if err := validate.Name(name); err != nil {
		return err
	}
	o := owner
	if err := r.store.AddRoom(ctx, name, &o, whitelistOnly, historyMax); err != nil {
		if err == store.ErrAlreadyExists {
			return chaterr.New(chaterr.RoomExists, name)
		}
		return chaterr.Wrap(err)
	}
	return nil
}

// Delete removes a room. Only the owner may do this (checkIsOwner).
func (r *Room) Delete(ctx context.Context, name, author string) error {
	if err := r.CheckIsOwner(ctx, name, author); err != nil {
		return err
	}
	if err := r.store.RemoveRoom(ctx, name); err != nil {
		return chaterr.Wrap(err)
	}
	return nil
}

// CheckIsOwner fails notAllowed unless user is the room's owner.
func (r *Room) CheckIsOwner(ctx context.Context, name, user string) error {
	owner, err := r.store.RoomOwnerGet(ctx, name)
	if err != nil {
		return translateNotFound(err, name)
	}
	if owner == nil || *owner != user {
		return chaterr.New(chaterr.NotAllowed)
	}
	return nil
}

// Join admits user to the room unless blacklisted, or whitelist-only and
// the user is neither whitelisted, an admin, nor the owner.
// Join adds user to room's userlist, reporting whether the user was newly
// added (false if they were already a member, e.g. a second socket for the
// same user joining the same room).
func (r *Room) Join(ctx context.Context, name, user string) (bool, error) {
	owner, adminlist, whitelist, blacklist, whitelistOnly, err := r.permissionSnapshot(ctx, name)
	if err != nil {
		return false, err
	}
	if slices.Contains(blacklist, user) {
		return false, chaterr.New(chaterr.NotAllowed)
	}
	isAdmin := slices.Contains(adminlist, user)
	isOwner := owner != nil && *owner == user
	if whitelistOnly && !slices.Contains(whitelist, user) && !isAdmin && !isOwner {
		return false, chaterr.New(chaterr.NotAllowed)
	}
	alreadyJoined, err := r.store.RoomHasInList(ctx, name, store.ListUserlist, user)
	if err != nil {
		return false, chaterr.Wrap(err)
	}
	if err := r.store.RoomAddToList(ctx, name, store.ListUserlist, []string{user}); err != nil {
		return false, chaterr.Wrap(err)
	}
	return !alreadyJoined, nil
}

// Leave removes user from the room unconditionally.
func (r *Room) Leave(ctx context.Context, name, user string) error {
	if err := r.store.RoomRemoveFromList(ctx, name, store.ListUserlist, []string{user}); err != nil {
		return translateNotFound(err, name)
	}
	return nil
}

// Message appends a sanitized message to history on behalf of author, who
// must already be joined.
func (r *Room) Message(ctx context.Context, name, author string, m state.Message) (state.Message, error) {
	joined, err := r.store.RoomHasInList(ctx, name, store.ListUserlist, author)
	if err != nil {
		return state.Message{}, translateNotFound(err, name)
	}
	if !joined {
		return state.Message{}, chaterr.New(chaterr.NotJoined)
	}

	m.TextMessage = content.Sanitize(m.TextMessage)
	m.RenderedHTML = content.RenderPreview(m.TextMessage)
	if err := r.store.RoomMessageAdd(ctx, name, m); err != nil {
		return state.Message{}, chaterr.Wrap(err)
	}
	return m, nil
}

// History returns the room's buffered messages, oldest first.
func (r *Room) History(ctx context.Context, name string) ([]state.Message, error) {
	msgs, err := r.store.RoomMessagesGet(ctx, name)
	if err != nil {
		return nil, translateNotFound(err, name)
	}
	return msgs, nil
}

// GetList returns the named list, failing notJoined if author is not a
// member of the room.
func (r *Room) GetList(ctx context.Context, name, author, listName string) ([]string, error) {
	if err := validate.ListName(listName); err != nil {
		return nil, err
	}
	joined, err := r.store.RoomHasInList(ctx, name, store.ListUserlist, author)
	if err != nil {
		return nil, translateNotFound(err, name)
	}
	if !joined {
		return nil, chaterr.New(chaterr.NotJoined)
	}
	vs, err := r.store.RoomGetList(ctx, name, store.List(listName))
	if err != nil {
		return nil, chaterr.Wrap(err)
	}
	return vs, nil
}

// GetMode returns the room's whitelist-only flag. Any author may read it.
func (r *Room) GetMode(ctx context.Context, name, author string) (bool, error) {
	v, err := r.store.RoomWhitelistOnlyGet(ctx, name)
	if err != nil {
		return false, translateNotFound(err, name)
	}
	return v, nil
}

func (r *Room) permissionSnapshot(ctx context.Context, name string) (owner *string, adminlist, whitelist, blacklist []string, whitelistOnly bool, err error) {
	owner, err = r.store.RoomOwnerGet(ctx, name)
	if err != nil {
		err = translateNotFound(err, name)
		return
	}
	adminlist, err = r.store.RoomGetList(ctx, name, store.ListAdminlist)
	if err != nil {
		err = chaterr.Wrap(err)
		return
	}
	whitelist, err = r.store.RoomGetList(ctx, name, store.ListWhitelist)
	if err != nil {
		err = chaterr.Wrap(err)
		return
	}
	blacklist, err = r.store.RoomGetList(ctx, name, store.ListBlacklist)
	if err != nil {
		err = chaterr.Wrap(err)
		return
	}
	whitelistOnly, err = r.store.RoomWhitelistOnlyGet(ctx, name)
	if err != nil {
		err = chaterr.Wrap(err)
		return
	}
	return
}

func (r *Room) isAdmin(owner *string, adminlist []string, user string) bool {
	if owner != nil && *owner == user {
		return true
	}
	return slices.Contains(adminlist, user)
}

func translateNotFound(err error, name string) error {
	if err == store.ErrNotFound {
		return chaterr.New(chaterr.InvalidName, name)
	}
	if ce, ok := err.(*chaterr.Error); ok {
		return ce
	}
	return chaterr.Wrap(err)
}
