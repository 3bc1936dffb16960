package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSetGetTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Now()
	s.SetClock(func() time.Time { return base })

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := s.Get(ctx, "k"); got != "v" {
		t.Fatalf("expected v, got %q", got)
	}

	s.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	if got, _ := s.Get(ctx, "k"); got != "" {
		t.Fatalf("expected expiry, got %q", got)
	}
}

func TestMemoryStoreSetNX(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	ok, err := s.SetNX(ctx, "lock", "a", 0)
	if err != nil || !ok {
		t.Fatalf("first SetNX: ok=%v err=%v", ok, err)
	}
	ok, err = s.SetNX(ctx, "lock", "b", 0)
	if err != nil {
		t.Fatalf("second SetNX: %v", err)
	}
	if ok {
		t.Fatal("second SetNX must lose")
	}
	if got, _ := s.Get(ctx, "lock"); got != "a" {
		t.Fatalf("expected holder a, got %q", got)
	}
}

func TestMemoryStoreCompareAndSwap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := []struct {
		name    string
		seed    string // "" = absent
		old     string
		want    bool
		expects string
	}{
		{"absent with empty old", "", "", true, "new"},
		{"absent with stale old", "", "x", false, ""},
		{"present with matching old", "x", "x", true, "new"},
		{"present with wrong old", "x", "y", false, "x"},
		{"present with empty old", "x", "", false, "x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewMemoryStore()
			if tc.seed != "" {
				if err := s.Set(ctx, "k", tc.seed, 0); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}
			ok, err := s.CompareAndSwap(ctx, "k", tc.old, "new", 0)
			if err != nil {
				t.Fatalf("CAS: %v", err)
			}
			if ok != tc.want {
				t.Fatalf("expected ok=%v, got %v", tc.want, ok)
			}
			if got, _ := s.Get(ctx, "k"); got != tc.expects {
				t.Fatalf("expected value %q, got %q", tc.expects, got)
			}
		})
	}
}

func TestMemoryStoreScan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	for _, k := range []string{"user:session:u1:h1", "user:session:u1:h2", "user:session:u2:h3", "unrelated"} {
		if err := s.Set(ctx, k, "x", 0); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	keys, err := s.Scan(ctx, "user:session:u1:*")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}

func TestMemoryStoreSortedSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	members := []Member{{Score: 3, Member: "c"}, {Score: 1, Member: "a"}, {Score: 2, Member: "b"}}
	if err := s.ZAdd(ctx, "z", members...); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}

	got, err := s.ZRangeAsc(ctx, "z", -1)
	if err != nil {
		t.Fatalf("ZRangeAsc: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	limited, _ := s.ZRangeAsc(ctx, "z", 2)
	if len(limited) != 2 {
		t.Fatalf("expected 2 members, got %v", limited)
	}

	if err := s.ZRem(ctx, "z", "a"); err != nil {
		t.Fatalf("ZRem: %v", err)
	}
	if n, _ := s.ZCard(ctx, "z"); n != 2 {
		t.Fatalf("expected card 2, got %d", n)
	}
}
