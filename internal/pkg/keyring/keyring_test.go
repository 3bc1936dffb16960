package keyring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yyupcompany/kinder-core/internal/pkg/kv"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, kv.Store) {
	t.Helper()
	if cfg.RotationInterval == 0 {
		cfg.RotationInterval = time.Hour
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 10 * time.Minute
	}
	if cfg.KeyLength == 0 {
		cfg.KeyLength = 32
	}
	if cfg.CacheTTL == 0 {
		// The cache would otherwise hide rotations from assertions.
		cfg.CacheTTL = time.Nanosecond
	}
	store := kv.NewMemoryStore()
	return New(store, cfg, zap.NewNop(), nil), store
}

func TestEnsureInitializedCreatesActiveKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, _ := newTestManager(t, Config{})
	if _, err := m.CurrentSigningKey(ctx); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("expected ErrNoActiveKey before init, got %v", err)
	}

	if err := m.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}

	key, err := m.CurrentSigningKey(ctx)
	if err != nil {
		t.Fatalf("CurrentSigningKey: %v", err)
	}
	if key.Status != StatusActive {
		t.Errorf("expected active status, got %q", key.Status)
	}
	if len(key.Material) != 32 {
		t.Errorf("expected 32-byte material, got %d", len(key.Material))
	}
	if key.Version != 1 {
		t.Errorf("expected version 1, got %d", key.Version)
	}
}

func TestEnsureInitializedAdoptsBootstrapSecret(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, _ := newTestManager(t, Config{BootstrapSecret: "legacy-shared-secret"})
	if err := m.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}
	key, err := m.CurrentSigningKey(ctx)
	if err != nil {
		t.Fatalf("CurrentSigningKey: %v", err)
	}
	if string(key.Material) != "legacy-shared-secret" {
		t.Error("expected bootstrap secret as initial key material")
	}
}

func TestEnsureInitializedIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, _ := newTestManager(t, Config{})
	if err := m.EnsureInitialized(ctx); err != nil {
		t.Fatalf("first init: %v", err)
	}
	first, _ := m.CurrentSigningKey(ctx)

	if err := m.EnsureInitialized(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	second, _ := m.CurrentSigningKey(ctx)
	if first.ID != second.ID {
		t.Error("re-init must not replace the active key")
	}
}

func TestRotateSwapsActiveAndKeepsOldForVerification(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, _ := newTestManager(t, Config{})
	if err := m.EnsureInitialized(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	old, _ := m.CurrentSigningKey(ctx)

	rotated, err := m.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.ID == old.ID {
		t.Fatal("rotation must install a fresh key")
	}
	if rotated.Version != old.Version+1 {
		t.Errorf("expected version %d, got %d", old.Version+1, rotated.Version)
	}

	current, err := m.CurrentSigningKey(ctx)
	if err != nil {
		t.Fatalf("CurrentSigningKey: %v", err)
	}
	if current.ID != rotated.ID {
		t.Error("active pointer must point at the new key")
	}

	keys, err := m.ValidKeysForVerification(ctx)
	if err != nil {
		t.Fatalf("ValidKeysForVerification: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected both keys valid during grace, got %d", len(keys))
	}
	if keys[0].ID != rotated.ID || keys[0].Status != StatusActive {
		t.Error("active key must lead the verification list")
	}
	if keys[1].ID != old.ID || keys[1].Status != StatusVerifyOnly {
		t.Error("previous key must remain as verify_only")
	}
}

func TestRotateEvictsBeyondMaxActiveKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, _ := newTestManager(t, Config{MaxActiveKeys: 3})
	if err := m.EnsureInitialized(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	var last *SigningKey
	for i := 0; i < 5; i++ {
		key, err := m.Rotate(ctx)
		if err != nil {
			t.Fatalf("rotation %d: %v", i, err)
		}
		last = key
	}

	keys, err := m.ValidKeysForVerification(ctx)
	if err != nil {
		t.Fatalf("ValidKeysForVerification: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 retained keys, got %d", len(keys))
	}
	if keys[0].ID != last.ID {
		t.Error("the newest key must survive eviction as active")
	}
	// The survivors are the newest ones.
	for i := 1; i < len(keys); i++ {
		if keys[i-1].Version <= keys[i].Version {
			t.Errorf("keys not ordered newest first: %d then %d", keys[i-1].Version, keys[i].Version)
		}
	}
}

func TestDemotedKeyDropsAfterGraceWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, _ := newTestManager(t, Config{GracePeriod: 50 * time.Millisecond})
	if err := m.EnsureInitialized(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	old, _ := m.CurrentSigningKey(ctx)

	rotated, err := m.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	keys, err := m.ValidKeysForVerification(ctx)
	if err != nil {
		t.Fatalf("ValidKeysForVerification: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != rotated.ID {
		t.Fatalf("expected only the new key once the grace window passed, got %d keys", len(keys))
	}

	demoted, err := m.KeyByID(ctx, old.ID)
	if err != nil {
		t.Fatalf("KeyByID: %v", err)
	}
	if demoted != nil {
		t.Error("the demoted key must stop verifying once its grace window passes")
	}
}

func TestRotateConflictDetected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := kv.NewMemoryStore()
	cfg := Config{RotationInterval: time.Hour, GracePeriod: 10 * time.Minute, KeyLength: 32, CacheTTL: time.Nanosecond}
	m := New(store, cfg, zap.NewNop(), nil)
	if err := m.EnsureInitialized(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	before, _ := m.CurrentSigningKey(ctx)

	// Simulate a concurrent rotation landing between the pointer read and the
	// CAS: the intercepting store lies about the pointer on first read.
	im := New(&staleReadStore{Store: store, key: "auth:signing:active", stale: "someone-else"}, cfg, zap.NewNop(), nil)
	if _, err := im.Rotate(ctx); !errors.Is(err, ErrRotationConflict) {
		t.Fatalf("expected ErrRotationConflict, got %v", err)
	}

	after, err := m.CurrentSigningKey(ctx)
	if err != nil {
		t.Fatalf("CurrentSigningKey: %v", err)
	}
	if after.ID != before.ID {
		t.Error("a lost rotation race must leave the active key untouched")
	}
}

// staleReadStore serves one fabricated value for a single key's first Get.
type staleReadStore struct {
	kv.Store
	key   string
	stale string
	used  bool
}

func (s *staleReadStore) Get(ctx context.Context, key string) (string, error) {
	if key == s.key && !s.used {
		s.used = true
		return s.stale, nil
	}
	return s.Store.Get(ctx, key)
}

func TestKeyByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, _ := newTestManager(t, Config{})
	if err := m.EnsureInitialized(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	current, _ := m.CurrentSigningKey(ctx)

	key, err := m.KeyByID(ctx, current.ID)
	if err != nil {
		t.Fatalf("KeyByID: %v", err)
	}
	if key == nil || key.ID != current.ID {
		t.Fatal("expected the active key by id")
	}

	unknown, err := m.KeyByID(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("KeyByID unknown: %v", err)
	}
	if unknown != nil {
		t.Error("unknown id must yield nil")
	}
}
