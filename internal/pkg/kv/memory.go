package kv

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used by unit tests and single-node
// development deployments (no redis configured). It is never a substitute for
// the shared store in multi-instance production.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryValue
	sets   map[string]map[string]struct{}
	zsets  map[string]map[string]float64
	now    func() time.Time
}

type memoryValue struct {
	data      string
	expiresAt time.Time // zero = no expiry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryValue),
		sets:   make(map[string]map[string]struct{}),
		zsets:  make(map[string]map[string]float64),
		now:    time.Now,
	}
}

// SetClock overrides the store clock, for tests exercising TTL expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) live(key string) (memoryValue, bool) {
	v, ok := s.values[key]
	if !ok {
		return memoryValue{}, false
	}
	if !v.expiresAt.IsZero() && !s.now().Before(v.expiresAt) {
		delete(s.values, key)
		return memoryValue{}, false
	}
	return v, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.live(key)
	if !ok {
		return "", nil
	}
	return v.data, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memoryValue{data: value, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.values[key] = memoryValue{data: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.live(key)
	if old == "" {
		if ok {
			return false, nil
		}
	} else if !ok || v.data != old {
		return false, nil
	}
	s.values[key] = memoryValue{data: new, expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
		delete(s.sets, key)
		delete(s.zsets, key)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return true, nil
	}
	_, ok := s.sets[key]
	return ok, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if v, ok := s.live(key); ok {
		n, _ = strconv.ParseInt(v.data, 10, 64)
	}
	n++
	s.values[key] = memoryValue{data: strconv.FormatInt(n, 10)}
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.live(key)
	if !ok {
		return nil
	}
	v.expiresAt = s.expiry(ttl)
	s.values[key] = v
	return nil
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func (s *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, members ...Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	zset, ok := s.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		s.zsets[key] = zset
	}
	for _, m := range members {
		zset[m.Member] = m.Score
	}
	return nil
}

func (s *MemoryStore) ZRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	zset, ok := s.zsets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(zset, m)
	}
	if len(zset) == 0 {
		delete(s.zsets, key)
	}
	return nil
}

func (s *MemoryStore) ZRangeAsc(_ context.Context, key string, count int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	zset := s.zsets[key]
	members := make([]Member, 0, len(zset))
	for m, score := range zset {
		members = append(members, Member{Score: score, Member: m})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	out := make([]string, 0, len(members))
	for _, m := range members {
		if count >= 0 && int64(len(out)) >= count {
			break
		}
		out = append(out, m.Member)
	}
	return out, nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

func (s *MemoryStore) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.values {
		if _, ok := s.live(key); !ok {
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Publish(context.Context, string, string) error {
	// No cross-process subscribers exist for a process-local store.
	return nil
}
