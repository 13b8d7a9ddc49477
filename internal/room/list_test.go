package room

import (
	"context"
	"testing"

	"chatcore/internal/chaterr"
	"chatcore/internal/store"
)

func setupRoom(t *testing.T, whitelistOnly bool) (*Room, context.Context) {
	t.Helper()
	ctx := context.Background()
	r := New(store.NewMemoryStore())
	if err := r.Create(ctx, "room1", "owner", whitelistOnly, 10); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return r, ctx
}

func TestListChangeUserlistImmutable(t *testing.T) {
	r, ctx := setupRoom(t, false)
	if _, err := r.AddToList(ctx, "room1", "owner", "userlist", []string{"x"}); chaterr.KindOf(err) != chaterr.NotAllowed {
		t.Errorf("expected notAllowed, got %v", err)
	}
}

func TestListChangeNonAdminRejected(t *testing.T) {
	r, ctx := setupRoom(t, false)
	if _, err := r.Join(ctx, "room1", "plain"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := r.AddToList(ctx, "room1", "plain", "blacklist", []string{"other"}); chaterr.KindOf(err) != chaterr.NotAllowed {
		t.Errorf("expected notAllowed for non-admin author, got %v", err)
	}
}

func TestListChangeTargetIsOwnerOrAdmin(t *testing.T) {
	r, ctx := setupRoom(t, false)
	if _, err := r.AddToList(ctx, "room1", "owner", "adminlist", []string{"admin1", "admin2"}); err != nil {
		t.Fatalf("AddToList adminlist: %v", err)
	}
	if _, err := r.AddToList(ctx, "room1", "admin1", "blacklist", []string{"owner"}); chaterr.KindOf(err) != chaterr.NotAllowed {
		t.Errorf("expected notAllowed targeting owner, got %v", err)
	}
	if _, err := r.AddToList(ctx, "room1", "admin2", "blacklist", []string{"admin1"}); chaterr.KindOf(err) != chaterr.NotAllowed {
		t.Errorf("expected notAllowed targeting admin, got %v", err)
	}
}

func TestListChangeDuplicateFails(t *testing.T) {
	r, ctx := setupRoom(t, false)
	if _, err := r.AddToList(ctx, "room1", "owner", "blacklist", []string{"x"}); err != nil {
		t.Fatalf("AddToList: %v", err)
	}
	if _, err := r.AddToList(ctx, "room1", "owner", "blacklist", []string{"x"}); chaterr.KindOf(err) != chaterr.NameInList {
		t.Errorf("expected nameInList, got %v", err)
	}
	if _, err := r.RemoveFromList(ctx, "room1", "owner", "whitelist", []string{"never-added"}); chaterr.KindOf(err) != chaterr.NoNameInList {
		t.Errorf("expected noNameInList, got %v", err)
	}
}

func TestBlacklistAddEvictsJoinedUser(t *testing.T) {
	r, ctx := setupRoom(t, false)
	if _, err := r.Join(ctx, "room1", "user1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	lost, err := r.AddToList(ctx, "room1", "owner", "blacklist", []string{"user1"})
	if err != nil {
		t.Fatalf("AddToList: %v", err)
	}
	if len(lost) != 1 || lost[0] != "user1" {
		t.Errorf("expected user1 to lose access, got %v", lost)
	}

	list, err := r.GetList(ctx, "room1", "owner", "userlist")
	if err != nil {
		t.Fatalf("GetList: %v", err)
	}
	for _, u := range list {
		if u == "user1" {
			t.Errorf("expected user1 removed from userlist, got %v", list)
		}
	}
}

func TestWhitelistRemoveEvictsUnderWhitelistOnly(t *testing.T) {
	r, ctx := setupRoom(t, true)
	if _, err := r.AddToList(ctx, "room1", "owner", "whitelist", []string{"user1"}); err != nil {
		t.Fatalf("AddToList whitelist: %v", err)
	}
	if _, err := r.Join(ctx, "room1", "user1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	lost, err := r.RemoveFromList(ctx, "room1", "owner", "whitelist", []string{"user1"})
	if err != nil {
		t.Fatalf("RemoveFromList: %v", err)
	}
	if len(lost) != 1 || lost[0] != "user1" {
		t.Errorf("expected user1 to lose access, got %v", lost)
	}
}

func TestBlacklistAddEvictsWhitelistedUser(t *testing.T) {
	r, ctx := setupRoom(t, true)
	if _, err := r.AddToList(ctx, "room1", "owner", "whitelist", []string{"user1"}); err != nil {
		t.Fatalf("AddToList whitelist: %v", err)
	}
	if _, err := r.Join(ctx, "room1", "user1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	lost, err := r.AddToList(ctx, "room1", "owner", "blacklist", []string{"user1"})
	if err != nil {
		t.Fatalf("AddToList blacklist: %v", err)
	}
	if len(lost) != 1 || lost[0] != "user1" {
		t.Errorf("expected whitelisted user1 to still lose access once blacklisted, got %v", lost)
	}
}

func TestChangeModeEvictsNonAdminNonWhitelisted(t *testing.T) {
	r, ctx := setupRoom(t, false)
	if _, err := r.AddToList(ctx, "room1", "owner", "adminlist", []string{"admin1"}); err != nil {
		t.Fatalf("AddToList adminlist: %v", err)
	}
	for _, u := range []string{"admin1", "plain1", "plain2"} {
		if _, err := r.Join(ctx, "room1", u); err != nil {
			t.Fatalf("Join %s: %v", u, err)
		}
	}

	lost, err := r.ChangeMode(ctx, "room1", "owner", true)
	if err != nil {
		t.Fatalf("ChangeMode: %v", err)
	}
	if len(lost) != 2 {
		t.Errorf("expected 2 evicted, got %v", lost)
	}

	mode, err := r.GetMode(ctx, "room1", "owner")
	if err != nil {
		t.Fatalf("GetMode: %v", err)
	}
	if !mode {
		t.Error("expected whitelistOnly = true")
	}
}

func TestChangeModeRequiresAdmin(t *testing.T) {
	r, ctx := setupRoom(t, false)
	if _, err := r.Join(ctx, "room1", "plain"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := r.ChangeMode(ctx, "room1", "plain", true); chaterr.KindOf(err) != chaterr.NotAllowed {
		t.Errorf("expected notAllowed, got %v", err)
	}
}
