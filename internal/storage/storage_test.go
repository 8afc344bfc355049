package storage

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrateTwice(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestUpsertGuildSettings(t *testing.T) {
	store := newTestStore(t)

	settings := GuildSettings{
		GuildID:         "g1",
		ModLogChannel:   "c1",
		LevelUpChannel:  "c9",
		LevelUpAnnounce: true,
	}

	if err := store.UpsertGuildSettings(context.Background(), settings); err != nil {
		t.Fatalf("upsert guild settings: %v", err)
	}

	settings.ModLogChannel = "c2"
	settings.LevelUpAnnounce = false
	if err := store.UpsertGuildSettings(context.Background(), settings); err != nil {
		t.Fatalf("update guild settings: %v", err)
	}

	got, err := store.GetGuildSettings(context.Background(), "g1", GuildSettings{})
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.ModLogChannel != "c2" {
		t.Fatalf("expected channel c2, got %q", got.ModLogChannel)
	}
	if got.LevelUpAnnounce {
		t.Fatalf("expected announcements disabled")
	}
}

func TestGuildSettingsDefaults(t *testing.T) {
	store := newTestStore(t)

	defaults := GuildSettings{ModLogChannel: "fallback", LevelUpAnnounce: true}
	got, err := store.GetGuildSettings(context.Background(), "missing", defaults)
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.GuildID != "missing" || got.ModLogChannel != "fallback" || !got.LevelUpAnnounce {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestAuditLogRetention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := AuditLog{GuildID: "g1", Level: "INFO", Event: "ban", CreatedAt: time.Now().AddDate(0, 0, -40)}
	fresh := AuditLog{GuildID: "g1", Level: "INFO", Event: "kick", CreatedAt: time.Now()}
	if err := store.AddAuditLog(ctx, old); err != nil {
		t.Fatalf("add old: %v", err)
	}
	if err := store.AddAuditLog(ctx, fresh); err != nil {
		t.Fatalf("add fresh: %v", err)
	}

	removed, err := store.CleanupAuditLogs(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "kick" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestSanctionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AddSanction(ctx, Sanction{GuildID: "g1", UserID: "u1", Kind: SanctionBan, ExpiresAt: time.Unix(1000, 0)})
	if err != nil {
		t.Fatalf("add sanction: %v", err)
	}
	if added.ID == "" {
		t.Fatalf("expected generated id")
	}

	pending, err := store.ListPendingSanctions(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].UserID != "u1" {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	if err := store.CompleteSanction(ctx, added.ID, time.Unix(2000, 0)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	pending, err = store.ListPendingSanctions(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending, got %d", len(pending))
	}

	got, ok, err := store.GetSanction(ctx, added.ID)
	if err != nil || !ok {
		t.Fatalf("get sanction: ok=%v err=%v", ok, err)
	}
	if got.CompletedAt == nil || got.CompletedAt.Unix() != 2000 {
		t.Fatalf("unexpected completion: %+v", got.CompletedAt)
	}
}

func TestPendingSanctionsFor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, s := range []Sanction{
		{GuildID: "g1", UserID: "u1", Kind: SanctionBan, ExpiresAt: time.Unix(3000, 0)},
		{GuildID: "g1", UserID: "u1", Kind: SanctionMute, ExpiresAt: time.Unix(3000, 0)},
		{GuildID: "g2", UserID: "u1", Kind: SanctionBan, ExpiresAt: time.Unix(3000, 0)},
		{GuildID: "g1", UserID: "u2", Kind: SanctionBan, ExpiresAt: time.Unix(3000, 0)},
	} {
		if _, err := store.AddSanction(ctx, s); err != nil {
			t.Fatalf("add sanction: %v", err)
		}
	}

	pending, err := store.PendingSanctionsFor(ctx, "g1", "u1", SanctionBan)
	if err != nil {
		t.Fatalf("pending for: %v", err)
	}
	if len(pending) != 1 || pending[0].GuildID != "g1" || pending[0].Kind != SanctionBan {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	if err := store.CompleteSanction(ctx, pending[0].ID, time.Unix(2000, 0)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	pending, err = store.PendingSanctionsFor(ctx, "g1", "u1", SanctionBan)
	if err != nil {
		t.Fatalf("pending for: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("completed sanctions must not be listed, got %+v", pending)
	}
}
