// Package keyring owns the lifecycle of the signing-key material used to
// mint and verify session tokens. Key records, the ACTIVE-key pointer and the
// version counter all live in the shared store; rotation swaps the pointer
// with a compare-and-set so exactly one key is ACTIVE across every instance.
package keyring

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yyupcompany/kinder-core/internal/pkg/kv"
	"go.uber.org/zap"
)

const (
	keyRecordPrefix   = "auth:signing:key:"
	keyIndexKey       = "auth:signing:keys"
	activePointerKey  = "auth:signing:active"
	versionCounterKey = "auth:signing:version"

	// EventChannel carries rotation notifications so other instances drop
	// their local key cache immediately instead of waiting out the TTL.
	EventChannel = "kinder:security:key-rotated"

	defaultCacheTTL = 5 * time.Second
)

// Status of a signing key. Expired keys are deleted outright, so no third
// status value is ever persisted.
type Status string

const (
	StatusActive     Status = "active"
	StatusVerifyOnly Status = "verify_only"
)

var (
	// ErrNoActiveKey means the service cannot issue tokens. Fatal; operators
	// must be alerted.
	ErrNoActiveKey = errors.New("no active signing key")
	// ErrRotationConflict means another instance rotated concurrently. The
	// previous ACTIVE key is untouched.
	ErrRotationConflict = errors.New("signing key rotation conflict")
)

// SigningKey is one key record as persisted in the shared store.
type SigningKey struct {
	ID        string    `json:"id"`
	Material  []byte    `json:"material"`
	Algorithm string    `json:"algorithm"`
	Version   int64     `json:"version"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the key may still verify tokens at the given time.
func (k *SigningKey) Valid(now time.Time) bool {
	return now.Before(k.ExpiresAt)
}

// Config controls rotation cadence and key shape.
type Config struct {
	RotationInterval time.Duration
	GracePeriod      time.Duration
	KeyLength        int
	MaxActiveKeys    int
	Algorithm        string
	// BootstrapSecret, when set, is adopted as the material of the very first
	// key instead of generating random bytes.
	BootstrapSecret string
	// CacheTTL bounds how long the local read-through key cache may serve
	// without re-reading the store (0 = defaultCacheTTL).
	CacheTTL time.Duration
}

// Auditor records key lifecycle events into the append-only audit trail.
type Auditor interface {
	Record(ctx context.Context, actor, subject, action, outcome, detail string)
}

// Manager is the key rotation manager. Safe for concurrent use.
type Manager struct {
	store kv.Store
	cfg   Config
	log   *zap.Logger
	audit Auditor

	mu       sync.RWMutex
	cached   []SigningKey
	cachedAt time.Time
}

// New creates a Manager. audit may be nil.
func New(store kv.Store, cfg Config, logger *zap.Logger, audit Auditor) *Manager {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "HS256"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, cfg: cfg, log: logger.Named("KeyRotation"), audit: audit}
}

func recordKey(id string) string { return keyRecordPrefix + id }

// EnsureInitialized guarantees an ACTIVE key exists, adopting the bootstrap
// secret or generating fresh material. Racing instances converge on one key.
func (m *Manager) EnsureInitialized(ctx context.Context) error {
	id, err := m.store.Get(ctx, activePointerKey)
	if err != nil {
		return err
	}
	if id != "" {
		return nil
	}

	material := []byte(m.cfg.BootstrapSecret)
	if len(material) == 0 {
		material = make([]byte, m.cfg.KeyLength)
		if _, err := rand.Read(material); err != nil {
			return fmt.Errorf("generate key material: %w", err)
		}
	}
	key, err := m.writeNewKey(ctx, material)
	if err != nil {
		return err
	}

	ok, err := m.store.CompareAndSwap(ctx, activePointerKey, "", key.ID, 0)
	if err != nil {
		return err
	}
	if !ok {
		// Another instance won the race; discard our candidate.
		_ = m.store.Del(ctx, recordKey(key.ID))
		_ = m.store.SRem(ctx, keyIndexKey, key.ID)
		return nil
	}
	m.log.Info("initial signing key installed", zap.String("keyId", key.ID), zap.Int64("version", key.Version))
	return nil
}

// CurrentSigningKey returns the single ACTIVE key.
func (m *Manager) CurrentSigningKey(ctx context.Context) (*SigningKey, error) {
	id, err := m.store.Get(ctx, activePointerKey)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrNoActiveKey
	}
	key, err := m.loadKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrNoActiveKey
	}
	return key, nil
}

// Rotate installs a fresh ACTIVE key, demotes the previous one to VERIFY_ONLY
// for the grace period and evicts keys beyond MaxActiveKeys. On any failure
// before the pointer swap commits, the old key stays ACTIVE.
func (m *Manager) Rotate(ctx context.Context) (*SigningKey, error) {
	oldID, err := m.store.Get(ctx, activePointerKey)
	if err != nil {
		return nil, err
	}

	material := make([]byte, m.cfg.KeyLength)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	key, err := m.writeNewKey(ctx, material)
	if err != nil {
		return nil, err
	}

	ok, err := m.store.CompareAndSwap(ctx, activePointerKey, oldID, key.ID, 0)
	if err != nil || !ok {
		_ = m.store.Del(ctx, recordKey(key.ID))
		_ = m.store.SRem(ctx, keyIndexKey, key.ID)
		if err != nil {
			return nil, err
		}
		return nil, ErrRotationConflict
	}

	if oldID != "" {
		if derr := m.demote(ctx, oldID); derr != nil {
			// The new key is already authoritative; a failed demotion only
			// extends the old key's verification window until its record TTL.
			m.log.Warn("failed to demote previous signing key", zap.String("keyId", oldID), zap.Error(derr))
		}
	}
	if err := m.evictOverflow(ctx, key.ID); err != nil {
		m.log.Warn("signing key eviction failed", zap.Error(err))
	}

	m.Invalidate()
	_ = m.store.Publish(ctx, EventChannel, key.ID)
	if m.audit != nil {
		m.audit.Record(ctx, "system", key.ID, "key.rotate", "success",
			fmt.Sprintf("old=%s new=%s version=%d", oldID, key.ID, key.Version))
	}
	m.log.Info("signing key rotated",
		zap.String("oldKeyId", oldID),
		zap.String("newKeyId", key.ID),
		zap.Int64("version", key.Version))
	return key, nil
}

// ValidKeysForVerification returns every non-expired key, newest first, the
// ACTIVE key leading. Served from a short-TTL local cache.
func (m *Manager) ValidKeysForVerification(ctx context.Context) ([]SigningKey, error) {
	m.mu.RLock()
	if m.cached != nil && time.Since(m.cachedAt) < m.cfg.CacheTTL {
		keys := m.cached
		m.mu.RUnlock()
		return keys, nil
	}
	m.mu.RUnlock()

	keys, err := m.loadValidKeys(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cached = keys
	m.cachedAt = time.Now()
	m.mu.Unlock()
	return keys, nil
}

// Invalidate drops the local key cache. Called on rotation events.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// KeyByID returns a single valid key, or nil when unknown/expired.
func (m *Manager) KeyByID(ctx context.Context, id string) (*SigningKey, error) {
	keys, err := m.ValidKeysForVerification(ctx)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if keys[i].ID == id {
			return &keys[i], nil
		}
	}
	return nil, nil
}

func (m *Manager) writeNewKey(ctx context.Context, material []byte) (*SigningKey, error) {
	version, err := m.store.Incr(ctx, versionCounterKey)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	key := &SigningKey{
		ID:        uuid.New().String(),
		Material:  material,
		Algorithm: m.cfg.Algorithm,
		Version:   version,
		Status:    StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.RotationInterval + m.cfg.GracePeriod),
	}
	if err := m.storeKey(ctx, key); err != nil {
		return nil, err
	}
	if err := m.store.SAdd(ctx, keyIndexKey, key.ID); err != nil {
		return nil, err
	}
	return key, nil
}

func (m *Manager) demote(ctx context.Context, id string) error {
	key, err := m.loadKey(ctx, id)
	if err != nil || key == nil {
		return err
	}
	key.Status = StatusVerifyOnly
	key.ExpiresAt = time.Now().Add(m.cfg.GracePeriod)
	return m.storeKey(ctx, key)
}

func (m *Manager) evictOverflow(ctx context.Context, activeID string) error {
	if m.cfg.MaxActiveKeys <= 0 {
		return nil
	}
	keys, err := m.loadValidKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) <= m.cfg.MaxActiveKeys {
		return nil
	}
	// keys are newest first; evict from the oldest end, never the ACTIVE key.
	for i := len(keys) - 1; i >= 0 && len(keys) > m.cfg.MaxActiveKeys; i-- {
		if keys[i].ID == activeID {
			continue
		}
		if err := m.store.Del(ctx, recordKey(keys[i].ID)); err != nil {
			return err
		}
		if err := m.store.SRem(ctx, keyIndexKey, keys[i].ID); err != nil {
			return err
		}
		keys = append(keys[:i], keys[i+1:]...)
	}
	return nil
}

func (m *Manager) loadValidKeys(ctx context.Context) ([]SigningKey, error) {
	ids, err := m.store.SMembers(ctx, keyIndexKey)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	keys := make([]SigningKey, 0, len(ids))
	for _, id := range ids {
		key, err := m.loadKey(ctx, id)
		if err != nil {
			return nil, err
		}
		if key == nil || !key.Valid(now) {
			// TTL-expired record; drop the dangling index member.
			_ = m.store.SRem(ctx, keyIndexKey, id)
			if key != nil {
				_ = m.store.Del(ctx, recordKey(id))
			}
			continue
		}
		keys = append(keys, *key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if (keys[i].Status == StatusActive) != (keys[j].Status == StatusActive) {
			return keys[i].Status == StatusActive
		}
		return keys[i].Version > keys[j].Version
	})
	return keys, nil
}

func (m *Manager) loadKey(ctx context.Context, id string) (*SigningKey, error) {
	data, err := m.store.Get(ctx, recordKey(id))
	if err != nil {
		return nil, err
	}
	if data == "" {
		return nil, nil
	}
	var key SigningKey
	if err := json.Unmarshal([]byte(data), &key); err != nil {
		return nil, fmt.Errorf("corrupt signing key record %s: %w", id, err)
	}
	return &key, nil
}

func (m *Manager) storeKey(ctx context.Context, key *SigningKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return err
	}
	ttl := time.Until(key.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return m.store.Set(ctx, recordKey(key.ID), string(data), ttl)
}
