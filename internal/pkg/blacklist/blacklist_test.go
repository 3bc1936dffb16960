package blacklist

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/yyupcompany/kinder-core/internal/pkg/kv"
	"go.uber.org/zap"
)

func newTestBlacklist(cfg Config) (*Blacklist, *kv.MemoryStore) {
	store := kv.NewMemoryStore()
	return New(store, cfg, zap.NewNop()), store
}

func TestRevokeAndIsBlacklisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bl, _ := newTestBlacklist(Config{})

	token := "header.payload.signature"
	if err := bl.Revoke(ctx, token, ReasonLogout, time.Now().Add(time.Hour), "u1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	revoked, err := bl.IsBlacklisted(ctx, token)
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if !revoked {
		t.Fatal("revocation must be visible immediately")
	}

	other, err := bl.IsBlacklisted(ctx, "some.other.token")
	if err != nil {
		t.Fatalf("IsBlacklisted other: %v", err)
	}
	if other {
		t.Fatal("unrelated token must not be revoked")
	}
}

func TestRevocationVisibleFromOtherInstance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bl, store := newTestBlacklist(Config{})
	// A second service instance sharing the same store.
	other := New(store, Config{}, zap.NewNop())

	token := "header.payload.signature"
	if err := bl.Revoke(ctx, token, ReasonPasswordChange, time.Now().Add(time.Hour), "u1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	revoked, err := other.IsBlacklisted(ctx, token)
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if !revoked {
		t.Fatal("revocation must be visible to every instance without delay")
	}
}

func TestRevokeStoresOnlyHashes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bl, store := newTestBlacklist(Config{})

	token := "raw.jwt.value"
	if err := bl.Revoke(ctx, token, ReasonLogout, time.Now().Add(time.Hour), ""); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// The raw token never appears as a key; only its hash does.
	if data, _ := store.Get(ctx, "token:blacklist:"+token); data != "" {
		t.Fatal("raw token must not be used as a store key")
	}
	if data, _ := store.Get(ctx, "token:blacklist:"+HashToken(token)); data == "" {
		t.Fatal("hashed entry missing")
	}
}

func TestRevokeSkipsExpiredTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bl, _ := newTestBlacklist(Config{})

	token := "already.expired.token"
	if err := bl.Revoke(ctx, token, ReasonLogout, time.Now().Add(-time.Minute), "u1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	n, err := bl.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expired token must not be retained, got %d entries", n)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bl, _ := newTestBlacklist(Config{})

	expiry := time.Now().Add(time.Hour)
	tokens := []string{"t1", "t2", "t3"}
	for _, tok := range tokens {
		if err := bl.Revoke(ctx, tok, ReasonLogout, expiry, "u1"); err != nil {
			t.Fatalf("Revoke %s: %v", tok, err)
		}
	}
	if err := bl.Revoke(ctx, "other-user-token", ReasonLogout, expiry, "u2"); err != nil {
		t.Fatalf("Revoke u2: %v", err)
	}

	n, err := bl.RevokeAllForUser(ctx, "u1", ReasonPasswordChange, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 re-stamped entries, got %d", n)
	}
	for _, tok := range tokens {
		revoked, err := bl.IsBlacklisted(ctx, tok)
		if err != nil || !revoked {
			t.Errorf("%s: expected revoked, got %v err %v", tok, revoked, err)
		}
	}
}

func TestSweepPurgesExpiredEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bl, store := newTestBlacklist(Config{})

	// One live entry through the normal path.
	if err := bl.Revoke(ctx, "live-token", ReasonLogout, time.Now().Add(time.Hour), ""); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// One entry whose recorded expiry already passed, planted directly since
	// Revoke refuses dead tokens.
	deadHash := HashToken("dead-token")
	entry, _ := json.Marshal(Entry{Reason: ReasonLogout, ExpiresAt: time.Now().Add(-time.Minute), CreatedAt: time.Now().Add(-time.Hour)})
	if err := store.Set(ctx, "token:blacklist:"+deadHash, string(entry), 0); err != nil {
		t.Fatalf("plant entry: %v", err)
	}
	if err := store.ZAdd(ctx, "token:blacklist:index", kv.Member{Score: 1, Member: deadHash}); err != nil {
		t.Fatalf("plant index: %v", err)
	}

	removed, err := bl.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged entry, got %d", removed)
	}
	n, _ := bl.Count(ctx)
	if n != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", n)
	}
}

func TestSweepEnforcesCapacity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bl, store := newTestBlacklist(Config{MaxEntries: 3})

	expiry := time.Now().Add(time.Hour)
	for i := 0; i < 5; i++ {
		tok := fmt.Sprintf("token-%d", i)
		if err := bl.Revoke(ctx, tok, ReasonLogout, expiry, ""); err != nil {
			t.Fatalf("Revoke %s: %v", tok, err)
		}
		// Deterministic age ordering regardless of wall-clock resolution.
		if err := store.ZAdd(ctx, "token:blacklist:index", kv.Member{Score: float64(i), Member: HashToken(tok)}); err != nil {
			t.Fatalf("reindex %s: %v", tok, err)
		}
	}

	removed, err := bl.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 evictions, got %d", removed)
	}
	n, _ := bl.Count(ctx)
	if n != 3 {
		t.Fatalf("expected capacity 3 after sweep, got %d", n)
	}

	// The oldest entries went first.
	if revoked, _ := bl.IsBlacklisted(ctx, "token-0"); revoked {
		t.Error("oldest entry should have been evicted")
	}
	if revoked, _ := bl.IsBlacklisted(ctx, "token-4"); !revoked {
		t.Error("newest entry must survive the sweep")
	}
}

func TestIsBlacklistedTreatsCorruptEntryAsRevoked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bl, store := newTestBlacklist(Config{})

	token := "corrupted.token"
	if err := store.Set(ctx, "token:blacklist:"+HashToken(token), "{not json", time.Hour); err != nil {
		t.Fatalf("plant entry: %v", err)
	}
	revoked, err := bl.IsBlacklisted(ctx, token)
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if !revoked {
		t.Fatal("a corrupt entry must still deny the token")
	}
}
