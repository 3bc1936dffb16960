// Package kv abstracts the distributed key-value store shared by every
// process instance. All security state (signing keys, blacklist entries,
// sessions) lives behind this interface so behavior stays correct under
// horizontal scale-out.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps store connectivity failures so callers can decide
// between fail-open (session tracking) and fail-closed (revocation) paths.
var ErrUnavailable = errors.New("shared store unavailable")

// Member is a sorted-set member with its score.
type Member struct {
	Score  float64
	Member string
}

// Store is the shared state store contract. Implementations must bound every
// call with a timeout; callers never hold locks across these calls.
type Store interface {
	// Get returns ("", nil) when the key does not exist.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value with TTL (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if the key is absent. Reports whether it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndSwap atomically replaces old with new. An empty old means
	// "key must be absent". Reports whether the swap happened.
	CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Incr atomically increments an integer key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets or replaces a key's TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key string, members ...Member) error
	ZRem(ctx context.Context, key string, members ...string) error
	// ZRangeAsc returns up to count members ordered by ascending score
	// (count < 0 = all).
	ZRangeAsc(ctx context.Context, key string, count int64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// Scan returns all keys matching a glob-style pattern. Large patterns are
	// only scanned by sweeps and statistics, never per-request.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Publish emits a fire-and-forget notification on a channel.
	Publish(ctx context.Context, channel, message string) error
}
