package sessions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/yyupcompany/kinder-core/internal/pkg/blacklist"
	"github.com/yyupcompany/kinder-core/internal/pkg/kv"
	"go.uber.org/zap"
)

func newTestRegistry(cfg Config) (*Registry, *blacklist.Blacklist, *kv.MemoryStore) {
	store := kv.NewMemoryStore()
	bl := blacklist.New(store, blacklist.Config{}, zap.NewNop())
	if cfg.TTL == 0 {
		cfg.TTL = 2 * time.Hour
	}
	return New(store, bl, cfg, zap.NewNop()), bl, store
}

func TestCreateGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, _, _ := newTestRegistry(Config{})

	s := Session{UserID: "u1", TokenHash: "h1", Role: "teacher", IP: "10.0.0.1", DeviceID: "d1"}
	if err := reg.Create(ctx, s, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := reg.Get(ctx, "u1", "h1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected session")
	}
	if got.Role != "teacher" || got.DeviceID != "d1" {
		t.Errorf("unexpected session fields: %+v", got)
	}
	if got.LoginTime.IsZero() || got.ExpiresAt.IsZero() {
		t.Error("timestamps must be filled on create")
	}

	if err := reg.Delete(ctx, "u1", "h1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = reg.Get(ctx, "u1", "h1")
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got != nil {
		t.Fatal("expected session gone after delete")
	}
}

func TestSingleSignOnEvictsOtherSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, bl, _ := newTestRegistry(Config{})

	if err := reg.Create(ctx, Session{UserID: "u1", TokenHash: blacklist.HashToken("old-token"), DeviceID: "phone"}, false); err != nil {
		t.Fatalf("create first: %v", err)
	}

	// A second login from another device evicts the first.
	if err := reg.Create(ctx, Session{UserID: "u1", TokenHash: blacklist.HashToken("new-token"), DeviceID: "tablet"}, true); err != nil {
		t.Fatalf("create second: %v", err)
	}

	list, err := reg.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one surviving session, got %d", len(list))
	}
	if list[0].TokenHash != blacklist.HashToken("new-token") {
		t.Error("the new session must be the survivor")
	}

	// The evicted token is immediately rejected everywhere.
	revoked, err := bl.IsBlacklisted(ctx, "old-token")
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if !revoked {
		t.Fatal("evicted session token must be blacklisted")
	}
	if ok, _ := bl.IsBlacklisted(ctx, "new-token"); ok {
		t.Fatal("the new token must stay valid")
	}
}

func TestCreateWithoutSSOKeepsMultipleDevices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, _, _ := newTestRegistry(Config{})

	for _, h := range []string{"h1", "h2", "h3"} {
		if err := reg.Create(ctx, Session{UserID: "u1", TokenHash: h, DeviceID: h}, false); err != nil {
			t.Fatalf("Create %s: %v", h, err)
		}
	}
	list, err := reg.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 concurrent sessions, got %d", len(list))
	}
}

func TestTouchUpdatesLastActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, _, _ := newTestRegistry(Config{})

	old := time.Now().Add(-30 * time.Minute)
	if err := reg.Create(ctx, Session{UserID: "u1", TokenHash: "h1", LastActiveTime: old}, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := reg.Touch(ctx, "u1", "h1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ := reg.Get(ctx, "u1", "h1")
	if !got.LastActiveTime.After(old) {
		t.Error("Touch must advance last_active_time")
	}
}

func TestEvictAllSparesException(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, bl, _ := newTestRegistry(Config{})

	hashes := []string{blacklist.HashToken("a"), blacklist.HashToken("b"), blacklist.HashToken("c")}
	for _, h := range hashes {
		if err := reg.Create(ctx, Session{UserID: "u1", TokenHash: h}, false); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	n, err := reg.EvictAll(ctx, "u1", hashes[0], blacklist.ReasonPasswordChange)
	if err != nil {
		t.Fatalf("EvictAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 evictions, got %d", n)
	}

	list, _ := reg.List(ctx, "u1")
	if len(list) != 1 || list[0].TokenHash != hashes[0] {
		t.Fatal("the spared session must survive")
	}
	if revoked, _ := bl.IsBlacklisted(ctx, "b"); !revoked {
		t.Error("evicted token must be blacklisted")
	}
}

func TestStatsAggregation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, bl, _ := newTestRegistry(Config{})

	sessions := []Session{
		{UserID: "u1", TokenHash: "h1", Role: "teacher"},
		{UserID: "u1", TokenHash: "h2", Role: "teacher"},
		{UserID: "u2", TokenHash: "h3", Role: "parent"},
	}
	for _, s := range sessions {
		if err := reg.Create(ctx, s, false); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := bl.Revoke(ctx, "revoked-token", blacklist.ReasonLogout, time.Now().Add(time.Hour), "u3"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	stats, err := reg.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.OnlineUsers != 2 {
		t.Errorf("expected 2 online users, got %d", stats.OnlineUsers)
	}
	if stats.TotalSessions != 3 {
		t.Errorf("expected 3 sessions, got %d", stats.TotalSessions)
	}
	if stats.BlacklistedTokens != 1 {
		t.Errorf("expected 1 blacklisted token, got %d", stats.BlacklistedTokens)
	}
	if stats.SessionsByRole["teacher"] != 2 || stats.SessionsByRole["parent"] != 1 {
		t.Errorf("unexpected role breakdown: %v", stats.SessionsByRole)
	}
}

func TestSweepIdleEvictsStaleSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, bl, store := newTestRegistry(Config{IdleTimeout: 30 * time.Minute})

	if err := reg.Create(ctx, Session{UserID: "u1", TokenHash: blacklist.HashToken("fresh")}, false); err != nil {
		t.Fatalf("Create fresh: %v", err)
	}

	// Plant a session that went idle an hour ago.
	stale := Session{
		UserID:         "u2",
		TokenHash:      blacklist.HashToken("stale"),
		LoginTime:      time.Now().Add(-2 * time.Hour),
		LastActiveTime: time.Now().Add(-time.Hour),
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	data, _ := json.Marshal(stale)
	if err := store.Set(ctx, "user:session:u2:"+stale.TokenHash, string(data), time.Hour); err != nil {
		t.Fatalf("plant session: %v", err)
	}
	if err := store.SAdd(ctx, "online:users", "u2"); err != nil {
		t.Fatalf("plant online: %v", err)
	}

	removed, err := reg.SweepIdle(ctx)
	if err != nil {
		t.Fatalf("SweepIdle: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed session, got %d", removed)
	}

	if s, _ := reg.Get(ctx, "u2", stale.TokenHash); s != nil {
		t.Error("stale session must be deleted")
	}
	if revoked, _ := bl.IsBlacklisted(ctx, "stale"); !revoked {
		t.Error("stale session token must be blacklisted with a timeout reason")
	}
	if s, _ := reg.Get(ctx, "u1", blacklist.HashToken("fresh")); s == nil {
		t.Error("fresh session must survive the sweep")
	}

	stats, _ := reg.Stats(ctx)
	if stats.OnlineUsers != 1 {
		t.Errorf("online set must be repaired, got %d users", stats.OnlineUsers)
	}
}
