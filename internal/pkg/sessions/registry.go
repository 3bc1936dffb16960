// Package sessions tracks active sign-ins per user and device in the shared
// store, enforcing single-sign-on eviction and exposing online statistics.
// Session records are keyed by (userId, tokenHash); raw tokens are never
// persisted.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yyupcompany/kinder-core/internal/pkg/blacklist"
	"github.com/yyupcompany/kinder-core/internal/pkg/kv"
	"go.uber.org/zap"
)

const (
	sessionPrefix = "user:session:"
	tokenPrefix   = "session:token:"
	onlineSetKey  = "online:users"
)

// ErrStoreUnavailable signals a session-store outage. Callers degrade to "no
// SSO enforcement / no online visibility" but must log the event.
var ErrStoreUnavailable = kv.ErrUnavailable

// Session is one active sign-in.
type Session struct {
	UserID         string    `json:"user_id"`
	TokenHash      string    `json:"token_hash"`
	Role           string    `json:"role,omitempty"`
	LoginTime      time.Time `json:"login_time"`
	LastActiveTime time.Time `json:"last_active_time"`
	IP             string    `json:"ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	DeviceID       string    `json:"device_id,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Stats is the aggregate operational view. Counts are eventually consistent.
type Stats struct {
	OnlineUsers       int64            `json:"online_users"`
	TotalSessions     int64            `json:"total_sessions"`
	BlacklistedTokens int64            `json:"blacklisted_tokens"`
	SessionsByRole    map[string]int64 `json:"sessions_by_role"`
}

// Revoker pushes evicted session tokens into the blacklist.
type Revoker interface {
	RevokeHash(ctx context.Context, hash string, reason blacklist.Reason, expiresAt time.Time, userID string) error
	Count(ctx context.Context) (int64, error)
}

// Config controls session lifetime.
type Config struct {
	TTL         time.Duration
	IdleTimeout time.Duration
}

// Registry is the session tracking service.
type Registry struct {
	store   kv.Store
	revoker Revoker
	cfg     Config
	log     *zap.Logger
}

// New creates a Registry.
func New(store kv.Store, revoker Revoker, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, revoker: revoker, cfg: cfg, log: logger.Named("SessionRegistry")}
}

func sessionKey(userID, hash string) string { return sessionPrefix + userID + ":" + hash }
func tokenKey(hash string) string           { return tokenPrefix + hash }

// Create stores a new session. With enforceSSO, every other session of the
// user is evicted and its token blacklisted before the new session becomes
// authoritative, so two sessions are never simultaneously valid.
func (r *Registry) Create(ctx context.Context, s Session, enforceSSO bool) error {
	now := time.Now()
	if s.LoginTime.IsZero() {
		s.LoginTime = now
	}
	if s.LastActiveTime.IsZero() {
		s.LastActiveTime = now
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = now.Add(r.cfg.TTL)
	}

	if enforceSSO {
		if _, err := r.evictOthers(ctx, s.UserID, s.TokenHash, s.DeviceID); err != nil {
			return err
		}
	}

	if err := r.write(ctx, &s); err != nil {
		return err
	}
	return r.store.SAdd(ctx, onlineSetKey, s.UserID)
}

// Get returns one session, or nil when absent.
func (r *Registry) Get(ctx context.Context, userID, tokenHash string) (*Session, error) {
	data, err := r.store.Get(ctx, sessionKey(userID, tokenHash))
	if err != nil {
		return nil, err
	}
	if data == "" {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("corrupt session record: %w", err)
	}
	return &s, nil
}

// List returns every active session of a user.
func (r *Registry) List(ctx context.Context, userID string) ([]Session, error) {
	keys, err := r.store.Scan(ctx, sessionPrefix+userID+":*")
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(keys))
	for _, key := range keys {
		hash := strings.TrimPrefix(key, sessionPrefix+userID+":")
		s, err := r.Get(ctx, userID, hash)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

// Touch refreshes the session's last-active timestamp.
func (r *Registry) Touch(ctx context.Context, userID, tokenHash string) error {
	s, err := r.Get(ctx, userID, tokenHash)
	if err != nil || s == nil {
		return err
	}
	s.LastActiveTime = time.Now()
	return r.write(ctx, s)
}

// Delete removes a session. The last session of a user also removes them from
// the online set. Logout must blacklist the token separately.
func (r *Registry) Delete(ctx context.Context, userID, tokenHash string) error {
	if err := r.store.Del(ctx, sessionKey(userID, tokenHash), tokenKey(tokenHash)); err != nil {
		return err
	}
	remaining, err := r.store.Scan(ctx, sessionPrefix+userID+":*")
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return r.store.SRem(ctx, onlineSetKey, userID)
	}
	return nil
}

// EvictAll deletes every session of a user (optionally sparing one token
// hash) and blacklists the evicted tokens with the given reason. Returns the
// number evicted.
func (r *Registry) EvictAll(ctx context.Context, userID, exceptHash string, reason blacklist.Reason) (int, error) {
	sessions, err := r.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	evicted := 0
	for _, s := range sessions {
		if exceptHash != "" && s.TokenHash == exceptHash {
			continue
		}
		if err := r.revoker.RevokeHash(ctx, s.TokenHash, reason, s.ExpiresAt, userID); err != nil {
			return evicted, err
		}
		if err := r.Delete(ctx, userID, s.TokenHash); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

// Stats aggregates the operational counters from the store.
func (r *Registry) Stats(ctx context.Context) (*Stats, error) {
	online, err := r.store.SCard(ctx, onlineSetKey)
	if err != nil {
		return nil, err
	}
	keys, err := r.store.Scan(ctx, sessionPrefix+"*")
	if err != nil {
		return nil, err
	}
	byRole := make(map[string]int64)
	for _, key := range keys {
		data, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if data == "" {
			continue
		}
		var s Session
		if json.Unmarshal([]byte(data), &s) == nil {
			role := s.Role
			if role == "" {
				role = "unknown"
			}
			byRole[role]++
		}
	}
	blacklisted, err := r.revoker.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		OnlineUsers:       online,
		TotalSessions:     int64(len(keys)),
		BlacklistedTokens: blacklisted,
		SessionsByRole:    byRole,
	}, nil
}

// SweepIdle deletes sessions idle past the configured timeout, blacklisting
// their tokens with SESSION_TIMEOUT. Also repairs the online set for users
// whose sessions all expired by TTL.
func (r *Registry) SweepIdle(ctx context.Context) (int, error) {
	if r.cfg.IdleTimeout <= 0 {
		return 0, nil
	}
	keys, err := r.store.Scan(ctx, sessionPrefix+"*")
	if err != nil {
		return 0, err
	}
	now := time.Now()
	removed := 0
	seen := make(map[string]bool)
	for _, key := range keys {
		data, err := r.store.Get(ctx, key)
		if err != nil {
			return removed, err
		}
		if data == "" {
			continue
		}
		var s Session
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			continue
		}
		if now.Sub(s.LastActiveTime) > r.cfg.IdleTimeout {
			if err := r.revoker.RevokeHash(ctx, s.TokenHash, blacklist.ReasonSessionTimeout, s.ExpiresAt, s.UserID); err != nil {
				return removed, err
			}
			if err := r.Delete(ctx, s.UserID, s.TokenHash); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		seen[s.UserID] = true
	}

	online, err := r.store.SMembers(ctx, onlineSetKey)
	if err != nil {
		return removed, err
	}
	for _, uid := range online {
		if !seen[uid] {
			_ = r.store.SRem(ctx, onlineSetKey, uid)
		}
	}
	return removed, nil
}

// evictOthers implements SSO eviction. The reason is DEVICE_CHANGE when the
// evicted session belongs to a different device than the incoming one,
// SESSION_TIMEOUT otherwise.
func (r *Registry) evictOthers(ctx context.Context, userID, keepHash, newDeviceID string) (int, error) {
	sessions, err := r.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	evicted := 0
	for _, s := range sessions {
		if s.TokenHash == keepHash {
			continue
		}
		reason := blacklist.ReasonSessionTimeout
		if newDeviceID != "" && s.DeviceID != newDeviceID {
			reason = blacklist.ReasonDeviceChange
		}
		if err := r.revoker.RevokeHash(ctx, s.TokenHash, reason, s.ExpiresAt, userID); err != nil {
			return evicted, err
		}
		if err := r.store.Del(ctx, sessionKey(userID, s.TokenHash), tokenKey(s.TokenHash)); err != nil {
			return evicted, err
		}
		evicted++
	}
	if evicted > 0 {
		r.log.Info("sso eviction", zap.String("userId", userID), zap.Int("evicted", evicted))
	}
	return evicted, nil
}

func (r *Registry) write(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := r.store.Set(ctx, sessionKey(s.UserID, s.TokenHash), string(data), ttl); err != nil {
		return err
	}
	return r.store.Set(ctx, tokenKey(s.TokenHash), s.UserID, ttl)
}
