// Package dm implements the permission-checked direct-messaging operations
// of §4.4: per-recipient blacklist/whitelist/whitelistOnly management and
// the I7 access check, built on top of the StateStore abstraction.
package dm

import (
	"context"
	"slices"

	"chatcore/internal/chaterr"
	"chatcore/internal/content"
	"chatcore/internal/state"
	"chatcore/internal/store"
	"chatcore/internal/validate"
)

// DirectMessaging enforces access control before reading or mutating a
// user's direct-messaging permission lists.
type DirectMessaging struct {
	store store.StateStore
}

// New builds a DirectMessaging operations object over the given store.
func New(s store.StateStore) *DirectMessaging {
	return &DirectMessaging{store: s}
}

// AddToList adds each value in vs to owner's own list. Only owner may
// mutate owner's lists; the caller is expected to have already confirmed
// author == owner before invoking this (User enforces that per command).
func (d *DirectMessaging) AddToList(ctx context.Context, owner, listName string, vs []string) error {
	if err := validate.DirectListName(listName); err != nil {
		return err
	}
	if err := d.store.UserAddToList(ctx, owner, store.List(listName), vs); err != nil {
		return translateNotFound(err)
	}
	return nil
}

// RemoveFromList removes each value in vs from owner's own list.
func (d *DirectMessaging) RemoveFromList(ctx context.Context, owner, listName string, vs []string) error {
	if err := validate.DirectListName(listName); err != nil {
		return err
	}
	if err := d.store.UserRemoveFromList(ctx, owner, store.List(listName), vs); err != nil {
		return translateNotFound(err)
	}
	return nil
}

// GetList returns owner's own list.
func (d *DirectMessaging) GetList(ctx context.Context, owner, listName string) ([]string, error) {
	if err := validate.DirectListName(listName); err != nil {
		return nil, err
	}
	vs, err := d.store.UserGetList(ctx, owner, store.List(listName))
	if err != nil {
		return nil, translateNotFound(err)
	}
	return vs, nil
}

// GetWhitelistMode returns owner's whitelist-only flag.
func (d *DirectMessaging) GetWhitelistMode(ctx context.Context, owner string) (bool, error) {
	v, err := d.store.UserWhitelistOnlyGet(ctx, owner)
	if err != nil {
		return false, translateNotFound(err)
	}
	return v, nil
}

// SetWhitelistMode sets owner's whitelist-only flag.
func (d *DirectMessaging) SetWhitelistMode(ctx context.Context, owner string, v bool) error {
	if err := d.store.UserWhitelistOnlySet(ctx, owner, v); err != nil {
		return translateNotFound(err)
	}
	return nil
}

// CheckAccess enforces I7: sender may message recipient unless sender is
// blacklisted by recipient, or recipient is whitelist-only and sender is
// not on recipient's whitelist. A blacklisted sender is told noUserOnline
// rather than notAllowed, so as not to leak the existence of the blacklist
// entry (§9 "Privacy of blacklist").
func (d *DirectMessaging) CheckAccess(ctx context.Context, sender, recipient string) error {
	blacklist, err := d.store.UserGetList(ctx, recipient, store.ListBlacklist)
	if err != nil {
		return translateRecipientNotFound(err)
	}
	if slices.Contains(blacklist, sender) {
		return chaterr.New(chaterr.NoUserOnline)
	}
	whitelistOnly, err := d.store.UserWhitelistOnlyGet(ctx, recipient)
	if err != nil {
		return translateRecipientNotFound(err)
	}
	if !whitelistOnly {
		return nil
	}
	whitelist, err := d.store.UserGetList(ctx, recipient, store.ListWhitelist)
	if err != nil {
		return translateRecipientNotFound(err)
	}
	if !slices.Contains(whitelist, sender) {
		return chaterr.New(chaterr.NotAllowed)
	}
	return nil
}

// Message runs CheckAccess, sanitizes and renders the text, and returns the
// message ready to be delivered; it does not itself deliver or persist —
// direct messages have no history (§3), so delivery is the caller's job.
func (d *DirectMessaging) Message(ctx context.Context, sender, recipient string, m state.Message) (state.Message, error) {
	if err := d.CheckAccess(ctx, sender, recipient); err != nil {
		return state.Message{}, err
	}
	m.TextMessage = content.Sanitize(m.TextMessage)
	m.RenderedHTML = content.RenderPreview(m.TextMessage)
	return m, nil
}

// translateNotFound covers lookups against the caller's own record (owner
// operations): the caller is always an authenticated, currently-online user,
// so a missing record here means their session just vanished out from under
// the call (e.g. a race with their own disconnect), which is exactly what
// noLogin denotes.
func translateNotFound(err error) error {
	if err == store.ErrNotFound {
		return chaterr.New(chaterr.NoLogin)
	}
	if ce, ok := err.(*chaterr.Error); ok {
		return ce
	}
	return chaterr.Wrap(err)
}

// translateRecipientNotFound covers lookups against a directMessage
// recipient, who may legitimately never have logged in. Per §9's privacy
// note, an absent recipient is indistinguishable from one who has
// blacklisted the sender: both report noUserOnline, never leaking which.
func translateRecipientNotFound(err error) error {
	if err == store.ErrNotFound {
		return chaterr.New(chaterr.NoUserOnline)
	}
	if ce, ok := err.(*chaterr.Error); ok {
		return ce
	}
	return chaterr.Wrap(err)
}
