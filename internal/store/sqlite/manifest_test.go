package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/l4rz/memefax/internal/domain"
)

func newTestManifest(t *testing.T) *ManifestStore {
	t.Helper()
	store, err := OpenManifest(filepath.Join(t.TempDir(), "chats.db"))
	if err != nil {
		t.Fatalf("open manifest failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return store
}

func TestUpsertChatPreservesFirstSeen(t *testing.T) {
	store := newTestManifest(t)
	ctx := context.Background()

	entry := domain.ChatManifestEntry{ChatID: 100, Name: "old name", Kind: domain.ChatKindUser}
	if err := store.UpsertChat(ctx, entry); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	first, err := store.GetChat(ctx, 100)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	entry.Name = "new name"
	if err := store.UpsertChat(ctx, entry); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	second, err := store.GetChat(ctx, 100)
	if err != nil {
		t.Fatalf("get after update failed: %v", err)
	}

	if second.Name != "new name" {
		t.Fatalf("expected renamed chat, got %q", second.Name)
	}
	if !second.FirstSeen.Equal(first.FirstSeen) {
		t.Fatalf("first_seen changed on update: %v -> %v", first.FirstSeen, second.FirstSeen)
	}
	if !second.LastSeen.After(first.LastSeen) {
		t.Fatalf("last_seen not advanced: %v -> %v", first.LastSeen, second.LastSeen)
	}
}

func TestUpsertChatLastMessageDate(t *testing.T) {
	store := newTestManifest(t)
	ctx := context.Background()

	latest := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := domain.ChatManifestEntry{
		ChatID:          200,
		Name:            "archive",
		Kind:            domain.ChatKindUser,
		LastMessageDate: latest,
	}
	if err := store.UpsertChat(ctx, entry); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, err := store.GetChat(ctx, 200)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.LastMessageDate.Equal(latest) {
		t.Fatalf("expected last_message_date %v, got %v", latest, got.LastMessageDate)
	}

	// A metadata refresh without a date does not erase the stored one.
	entry.LastMessageDate = time.Time{}
	if err := store.UpsertChat(ctx, entry); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	got, err = store.GetChat(ctx, 200)
	if err != nil {
		t.Fatalf("get after refresh failed: %v", err)
	}
	if !got.LastMessageDate.Equal(latest) {
		t.Fatalf("last_message_date erased on refresh: got %v", got.LastMessageDate)
	}
}

func TestGetChatNotInManifest(t *testing.T) {
	store := newTestManifest(t)
	_, err := store.GetChat(context.Background(), 9999)
	if !errors.Is(err, ErrChatNotInManifest) {
		t.Fatalf("expected ErrChatNotInManifest, got %v", err)
	}
}

func TestListChatsByKind(t *testing.T) {
	store := newTestManifest(t)
	ctx := context.Background()

	entries := []domain.ChatManifestEntry{
		{ChatID: 1, Name: "alice", Kind: domain.ChatKindUser},
		{ChatID: 2, Name: "devs", Kind: domain.ChatKindGroup},
		{ChatID: 3, Name: "announcements", Kind: domain.ChatKindChannel, Broadcast: true},
		{ChatID: 4, Name: "bigroom", Kind: domain.ChatKindSupergroup},
	}
	for _, e := range entries {
		if err := store.UpsertChat(ctx, e); err != nil {
			t.Fatalf("upsert %d failed: %v", e.ChatID, err)
		}
	}

	users, err := store.ListChatsByKind(ctx, domain.ChatKindUser)
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 || users[0].ChatID != 1 {
		t.Fatalf("expected only chat 1, got %+v", users)
	}

	groups, err := store.ListChatsByKind(ctx, domain.ChatKindGroup, domain.ChatKindSupergroup)
	if err != nil {
		t.Fatalf("list groups failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 group chats, got %d", len(groups))
	}

	all, err := store.ListChats(ctx)
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 chats, got %d", len(all))
	}
}

func TestOpenExistingManifestMissing(t *testing.T) {
	_, err := OpenExistingManifest(filepath.Join(t.TempDir(), "absent", "chats.db"))
	if !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("expected ErrManifestNotFound, got %v", err)
	}
}
