// Package blacklist records tokens that must be rejected before their natural
// expiry. Only one-way hashes of tokens are ever persisted, keyed in the
// shared store so a revocation on one instance is immediately visible to all.
package blacklist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yyupcompany/kinder-core/internal/pkg/kv"
	"go.uber.org/zap"
)

const (
	entryPrefix   = "token:blacklist:"
	indexKey      = "token:blacklist:index"
	userSetPrefix = "user:blacklist:"
)

// Reason a token was revoked.
type Reason string

const (
	ReasonLogout          Reason = "LOGOUT"
	ReasonPasswordChange  Reason = "PASSWORD_CHANGE"
	ReasonAccountDisabled Reason = "ACCOUNT_DISABLED"
	ReasonSecurityBreach  Reason = "SECURITY_BREACH"
	ReasonAdminRevoke     Reason = "ADMIN_REVOKE"
	ReasonSessionTimeout  Reason = "SESSION_TIMEOUT"
	ReasonDeviceChange    Reason = "DEVICE_CHANGE"
	ReasonMFAReset        Reason = "MFA_RESET"
)

// ErrStoreUnavailable signals the blacklist could not be consulted. Callers
// on revocation-sensitive paths must treat this as a denial, never a pass.
var ErrStoreUnavailable = kv.ErrUnavailable

// Entry is one revocation record. The raw token never appears here.
type Entry struct {
	UserID    string    `json:"user_id,omitempty"`
	Reason    Reason    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Config bounds the store footprint.
type Config struct {
	// MaxEntries is a hard capacity: after a sweep the store never holds more
	// live entries than this; oldest entries are evicted first.
	MaxEntries int64
}

// Blacklist is the token revocation service.
type Blacklist struct {
	store kv.Store
	cfg   Config
	log   *zap.Logger
}

// New creates a Blacklist.
func New(store kv.Store, cfg Config, logger *zap.Logger) *Blacklist {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Blacklist{store: store, cfg: cfg, log: logger.Named("TokenBlacklist")}
}

// HashToken computes the one-way fingerprint under which a token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func entryKey(hash string) string     { return entryPrefix + hash }
func userSetKey(userID string) string { return userSetPrefix + userID }

// Revoke blacklists a token until expiresAt. userID may be empty; when given,
// the entry is also indexed for bulk revocation.
func (b *Blacklist) Revoke(ctx context.Context, token string, reason Reason, expiresAt time.Time, userID string) error {
	return b.RevokeHash(ctx, HashToken(token), reason, expiresAt, userID)
}

// RevokeHash is Revoke for callers that only hold the token hash (for
// example session eviction, which never keeps raw tokens).
func (b *Blacklist) RevokeHash(ctx context.Context, hash string, reason Reason, expiresAt time.Time, userID string) error {
	now := time.Now()
	if !expiresAt.After(now) {
		// The token already expired naturally; nothing to retain.
		return nil
	}
	entry := Entry{UserID: userID, Reason: reason, ExpiresAt: expiresAt, CreatedAt: now}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := b.store.Set(ctx, entryKey(hash), string(data), time.Until(expiresAt)); err != nil {
		return err
	}
	if err := b.store.ZAdd(ctx, indexKey, kv.Member{Score: float64(now.UnixMilli()), Member: hash}); err != nil {
		return err
	}
	if userID != "" {
		if err := b.store.SAdd(ctx, userSetKey(userID), hash); err != nil {
			return err
		}
	}
	return nil
}

// IsBlacklisted reports whether the token is currently revoked. A store
// failure is returned as an error so the caller can apply its fail-open or
// fail-closed policy explicitly.
func (b *Blacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	hash := HashToken(token)
	data, err := b.store.Get(ctx, entryKey(hash))
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	if data == "" {
		return false, nil
	}
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		// A corrupt entry still marks the token as revoked.
		b.log.Warn("corrupt blacklist entry", zap.String("hash", hash), zap.Error(err))
		return true, nil
	}
	if !entry.ExpiresAt.After(time.Now()) {
		// Expired entries count as absent; purge opportunistically.
		b.remove(ctx, hash, entry.UserID)
		return false, nil
	}
	return true, nil
}

// RevokeAllForUser re-stamps every indexed entry for the user with the given
// reason and expiry, returning the number touched. Used for password change
// and account disable.
func (b *Blacklist) RevokeAllForUser(ctx context.Context, userID string, reason Reason, expiresAt time.Time) (int, error) {
	hashes, err := b.store.SMembers(ctx, userSetKey(userID))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, hash := range hashes {
		exists, err := b.store.Exists(ctx, entryKey(hash))
		if err != nil {
			return count, err
		}
		if !exists {
			_ = b.store.SRem(ctx, userSetKey(userID), hash)
			_ = b.store.ZRem(ctx, indexKey, hash)
			continue
		}
		if err := b.RevokeHash(ctx, hash, reason, expiresAt, userID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Count returns the number of indexed entries. Eventually consistent; expired
// entries linger until the next sweep.
func (b *Blacklist) Count(ctx context.Context) (int64, error) {
	return b.store.ZCard(ctx, indexKey)
}

// Sweep removes entries past their expiry, then enforces the capacity bound
// by evicting the oldest surplus. Returns how many entries were dropped.
func (b *Blacklist) Sweep(ctx context.Context) (int, error) {
	hashes, err := b.store.ZRangeAsc(ctx, indexKey, -1)
	if err != nil {
		return 0, err
	}
	removed := 0
	now := time.Now()
	live := make([]string, 0, len(hashes))
	for _, hash := range hashes {
		data, err := b.store.Get(ctx, entryKey(hash))
		if err != nil {
			return removed, err
		}
		if data == "" {
			_ = b.store.ZRem(ctx, indexKey, hash)
			removed++
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err == nil && !entry.ExpiresAt.After(now) {
			b.remove(ctx, hash, entry.UserID)
			removed++
			continue
		}
		live = append(live, hash)
	}

	if b.cfg.MaxEntries > 0 && int64(len(live)) > b.cfg.MaxEntries {
		// live is oldest-first; shed from the front until within capacity.
		overflow := int64(len(live)) - b.cfg.MaxEntries
		for _, hash := range live[:overflow] {
			entry, _ := b.load(ctx, hash)
			uid := ""
			if entry != nil {
				uid = entry.UserID
			}
			b.remove(ctx, hash, uid)
			removed++
		}
		b.log.Warn("blacklist over capacity, evicted oldest entries",
			zap.Int64("evicted", overflow), zap.Int64("maxEntries", b.cfg.MaxEntries))
	}
	return removed, nil
}

func (b *Blacklist) load(ctx context.Context, hash string) (*Entry, error) {
	data, err := b.store.Get(ctx, entryKey(hash))
	if err != nil || data == "" {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (b *Blacklist) remove(ctx context.Context, hash, userID string) {
	if err := errors.Join(
		b.store.Del(ctx, entryKey(hash)),
		b.store.ZRem(ctx, indexKey, hash),
	); err != nil {
		b.log.Warn("blacklist purge failed", zap.String("hash", hash), zap.Error(err))
	}
	if userID != "" {
		_ = b.store.SRem(ctx, userSetKey(userID), hash)
	}
}
