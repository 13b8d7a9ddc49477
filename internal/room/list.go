package room

import (
	"context"
	"slices"
	"sync"

	"chatcore/internal/chaterr"
	"chatcore/internal/store"
	"chatcore/internal/validate"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxInFlight bounds the concurrency of a single list-mutation batch (§4.3:
// "bounded concurrency (≤ 16 in flight)").
const maxInFlight = 16

// AddToList applies the list-change protocol to add each value in vs to
// listName, then returns the subset of currently-joined users who lost
// access as a result (computed post-mutation, per §5/§9).
func (r *Room) AddToList(ctx context.Context, name, author, listName string, vs []string) ([]string, error) {
	applied, err := r.mutateList(ctx, name, author, listName, vs, true)
	if err != nil {
		return nil, err
	}
	if listName != "blacklist" {
		return nil, nil
	}
	// Blacklist overrides every other permission (§4.3 I3), including
	// whitelist membership: a blacklisted-and-whitelisted user still loses
	// access.
	return r.evictLostAccess(ctx, name, applied, false)
}

// RemoveFromList applies the list-change protocol to remove each value in
// vs from listName, then returns the subset of currently-joined users who
// lost access as a result.
func (r *Room) RemoveFromList(ctx context.Context, name, author, listName string, vs []string) ([]string, error) {
	applied, err := r.mutateList(ctx, name, author, listName, vs, false)
	if err != nil {
		return nil, err
	}
	if listName != "whitelist" {
		return nil, nil
	}
	whitelistOnly, err := r.store.RoomWhitelistOnlyGet(ctx, name)
	if err != nil {
		return nil, chaterr.Wrap(err)
	}
	if !whitelistOnly {
		return nil, nil
	}
	return r.evictLostAccess(ctx, name, applied, true)
}

// ChangeMode requires author to be an admin. Transitioning to
// whitelist-only = true evicts every currently-joined user who is not an
// admin, not the owner, and not whitelisted.
func (r *Room) ChangeMode(ctx context.Context, name, author string, mode bool) ([]string, error) {
	owner, adminlist, _, _, _, err := r.permissionSnapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	if !r.isAdmin(owner, adminlist, author) {
		return nil, chaterr.New(chaterr.NotAllowed)
	}
	if err := r.store.RoomWhitelistOnlySet(ctx, name, mode); err != nil {
		return nil, chaterr.Wrap(err)
	}
	if !mode {
		return nil, nil
	}

	userlist, err := r.store.RoomGetList(ctx, name, store.ListUserlist)
	if err != nil {
		return nil, chaterr.Wrap(err)
	}
	return r.evictLostAccess(ctx, name, userlist, true)
}

// mutateList runs the list-change protocol (§4.3) over vs with bounded
// concurrency. On the first per-item failure the whole call returns that
// error; items already applied before the failure remain applied.
func (r *Room) mutateList(ctx context.Context, name, author, listName string, vs []string, isAdd bool) ([]string, error) {
	if err := validate.ListName(listName); err != nil {
		return nil, err
	}
	if listName == "userlist" {
		return nil, chaterr.New(chaterr.NotAllowed)
	}

	owner, adminlist, _, _, _, err := r.permissionSnapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	isAuthorOwner := owner != nil && *owner == author
	isAuthorAdmin := r.isAdmin(owner, adminlist, author)

	sem := semaphore.NewWeighted(maxInFlight)
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	applied := make([]string, 0, len(vs))

	for _, v := range vs {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			if err := protocolCheck(owner, adminlist, author, v, isAuthorOwner, isAuthorAdmin); err != nil {
				return err
			}

			has, err := r.store.RoomHasInList(gctx, name, store.List(listName), v)
			if err != nil {
				return chaterr.Wrap(err)
			}
			if isAdd && has {
				return chaterr.New(chaterr.NameInList, v)
			}
			if !isAdd && !has {
				return chaterr.New(chaterr.NoNameInList, v)
			}

			if isAdd {
				err = r.store.RoomAddToList(gctx, name, store.List(listName), []string{v})
			} else {
				err = r.store.RoomRemoveFromList(gctx, name, store.List(listName), []string{v})
			}
			if err != nil {
				return chaterr.Wrap(err)
			}

			mu.Lock()
			applied = append(applied, v)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return applied, err
	}
	return applied, nil
}

// protocolCheck implements steps 2-5 of the list-change protocol; step 1
// (userlist immutability) and step 6 (nameInList/noNameInList) are checked
// by the caller, the former once per call, the latter per item against the
// live store.
func protocolCheck(owner *string, adminlist []string, author, v string, isAuthorOwner, isAuthorAdmin bool) error {
	if isAuthorOwner {
		return nil
	}
	if owner != nil && v == *owner {
		return chaterr.New(chaterr.NotAllowed)
	}
	if slices.Contains(adminlist, v) {
		return chaterr.New(chaterr.NotAllowed)
	}
	if !isAuthorAdmin {
		return chaterr.New(chaterr.NotAllowed)
	}
	return nil
}

// evictLostAccess removes each of candidates from the userlist if they are
// currently joined, not an admin, and not the owner, returning those
// actually evicted. Computed post-mutation so a concurrent permission grant
// can never be undone by a stale check (§5, §9 "two-phase eviction").
// exemptWhitelisted controls whether whitelist membership saves a
// whitelist-only room's candidate from eviction: it does for whitelist
// removal and for changeMode(true), but not for a blacklist add, since
// blacklist overrides every other permission including the whitelist
// (§4.3 I3).
func (r *Room) evictLostAccess(ctx context.Context, name string, candidates []string, exemptWhitelisted bool) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	owner, adminlist, whitelist, _, whitelistOnly, err := r.permissionSnapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	userlist, err := r.store.RoomGetList(ctx, name, store.ListUserlist)
	if err != nil {
		return nil, chaterr.Wrap(err)
	}

	var lost []string
	for _, u := range candidates {
		if !slices.Contains(userlist, u) {
			continue
		}
		if r.isAdmin(owner, adminlist, u) {
			continue
		}
		if exemptWhitelisted && whitelistOnly && slices.Contains(whitelist, u) {
			continue
		}
		lost = append(lost, u)
	}
	if len(lost) == 0 {
		return nil, nil
	}
	if err := r.store.RoomRemoveFromList(ctx, name, store.ListUserlist, lost); err != nil {
		return nil, chaterr.Wrap(err)
	}
	return lost, nil
}
