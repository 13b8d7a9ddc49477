package dm

import (
	"context"
	"strings"
	"testing"

	"chatcore/internal/chaterr"
	"chatcore/internal/state"
	"chatcore/internal/store"
)

func setupUsers(t *testing.T, s store.StateStore, names ...string) {
	t.Helper()
	ctx := context.Background()
	for _, n := range names {
		if _, err := s.LoginUser(ctx, n, state.SocketRef{InstanceID: "i1", SocketID: n + "-s1"}); err != nil {
			t.Fatalf("LoginUser(%s): %v", n, err)
		}
	}
}

func TestDirectMessageDefaultAllowed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	setupUsers(t, s, "alice", "bob")
	d := New(s)

	if err := d.CheckAccess(ctx, "bob", "alice"); err != nil {
		t.Errorf("expected default access allowed, got %v", err)
	}
}

func TestDirectMessageBlacklistedSenderSeesNoUserOnline(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	setupUsers(t, s, "alice", "bob")
	d := New(s)

	if err := d.AddToList(ctx, "alice", "blacklist", []string{"bob"}); err != nil {
		t.Fatalf("AddToList: %v", err)
	}
	if err := d.CheckAccess(ctx, "bob", "alice"); chaterr.KindOf(err) != chaterr.NoUserOnline {
		t.Errorf("expected noUserOnline (privacy policy), got %v", err)
	}
}

func TestDirectMessageWhitelistOnlyRejectsNonWhitelisted(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	setupUsers(t, s, "alice", "bob", "carol")
	d := New(s)

	if err := d.SetWhitelistMode(ctx, "alice", true); err != nil {
		t.Fatalf("SetWhitelistMode: %v", err)
	}
	if err := d.AddToList(ctx, "alice", "whitelist", []string{"bob"}); err != nil {
		t.Fatalf("AddToList: %v", err)
	}

	if err := d.CheckAccess(ctx, "bob", "alice"); err != nil {
		t.Errorf("expected whitelisted sender allowed, got %v", err)
	}
	if err := d.CheckAccess(ctx, "carol", "alice"); chaterr.KindOf(err) != chaterr.NotAllowed {
		t.Errorf("expected notAllowed for non-whitelisted sender, got %v", err)
	}
}

func TestDirectMessageSanitizesAndRenders(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	setupUsers(t, s, "alice", "bob")
	d := New(s)

	m, err := d.Message(ctx, "bob", "alice", state.Message{TextMessage: "<script>alert(1)</script>**hi**"})
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if m.RenderedHTML == "" {
		t.Error("expected RenderedHTML populated")
	}
	if strings.Contains(m.TextMessage, "<script>") {
		t.Errorf("expected sanitized text, got %q", m.TextMessage)
	}
}

func TestDirectListValidation(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	setupUsers(t, s, "alice")
	d := New(s)

	if _, err := d.GetList(ctx, "alice", "adminlist"); chaterr.KindOf(err) != chaterr.NoList {
		t.Errorf("expected noList for admitted-in-rooms-only list name, got %v", err)
	}
}
