package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultOpTimeout bounds every round-trip to Redis.
const DefaultOpTimeout = 3 * time.Second

// casScript swaps key from ARGV[1] to ARGV[2] only when the current value
// still matches. ARGV[1] == "" means the key must not exist. ARGV[3] is the
// TTL in milliseconds (0 = persist).
var casScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if ARGV[1] == "" then
  if cur then return 0 end
else
  if cur ~= ARGV[1] then return 0 end
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// RedisStore implements Store on top of go-redis.
type RedisStore struct {
	rdb       *redis.Client
	opTimeout time.Duration
}

// NewRedisStore wraps an existing client. opTimeout <= 0 falls back to
// DefaultOpTimeout.
func NewRedisStore(rdb *redis.Client, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &RedisStore{rdb: rdb, opTimeout: opTimeout}
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func wrapErr(op string, err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, wrapErr("get", err)
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return wrapErr("set", s.rdb.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	return ok, wrapErr("setnx", err)
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	res, err := casScript.Run(ctx, s.rdb, []string{key}, old, new, ttl.Milliseconds()).Int()
	if err != nil {
		return false, wrapErr("cas", err)
	}
	return res == 1, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return wrapErr("del", s.rdb.Del(ctx, keys...).Err())
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, wrapErr("exists", err)
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.rdb.Incr(ctx, key).Result()
	return n, wrapErr("incr", err)
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return wrapErr("expire", s.rdb.Expire(ctx, key, ttl).Err())
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapErr("sadd", s.rdb.SAdd(ctx, key, args...).Err())
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapErr("srem", s.rdb.SRem(ctx, key, args...).Err())
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	members, err := s.rdb.SMembers(ctx, key).Result()
	return members, wrapErr("smembers", err)
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.rdb.SCard(ctx, key).Result()
	return n, wrapErr("scard", err)
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, members ...Member) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return wrapErr("zadd", s.rdb.ZAdd(ctx, key, zs...).Err())
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapErr("zrem", s.rdb.ZRem(ctx, key, args...).Err())
}

func (s *RedisStore) ZRangeAsc(ctx context.Context, key string, count int64) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	stop := count - 1
	if count < 0 {
		stop = -1
	}
	members, err := s.rdb.ZRange(ctx, key, 0, stop).Result()
	return members, wrapErr("zrange", err)
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.rdb.ZCard(ctx, key).Result()
	return n, wrapErr("zcard", err)
}

func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, wrapErr("scan", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return wrapErr("publish", s.rdb.Publish(ctx, channel, message).Err())
}
