package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yyupcompany/kinder-core/internal/pkg/kv"
	"go.uber.org/zap"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRunExecutesJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(kv.NewMemoryStore(), zap.NewNop())

	var ran atomic.Int32
	s.Register(Job{
		Name:     "touch",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		},
	})

	if err := s.Run(ctx, "touch"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitFor(t, func() bool { return ran.Load() == 1 })

	waitFor(t, func() bool {
		for _, item := range s.List() {
			if item.Name == "touch" && item.Status == StatusFulfill {
				return true
			}
		}
		return false
	})
}

func TestRunUnknownJob(t *testing.T) {
	t.Parallel()
	s := New(kv.NewMemoryStore(), zap.NewNop())
	if err := s.Run(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestFailedJobReportsReject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(kv.NewMemoryStore(), zap.NewNop())

	s.Register(Job{
		Name:     "broken",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			return errors.New("boom")
		},
	})
	if err := s.Run(ctx, "broken"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitFor(t, func() bool {
		for _, item := range s.List() {
			if item.Name == "broken" && item.Status == StatusReject {
				return true
			}
		}
		return false
	})
}

func TestExclusiveJobRunsOncePerDeployment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Two schedulers sharing one store model two instances of the service.
	store := kv.NewMemoryStore()
	a := New(store, zap.NewNop())
	b := New(store, zap.NewNop())

	var ran atomic.Int32
	job := Job{
		Name:      "exclusive",
		Interval:  time.Hour,
		Exclusive: true,
		Fn: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		},
	}
	a.Register(job)
	b.Register(job)

	if err := a.Run(ctx, "exclusive"); err != nil {
		t.Fatalf("Run a: %v", err)
	}
	waitFor(t, func() bool { return ran.Load() == 1 })

	if err := b.Run(ctx, "exclusive"); err != nil {
		t.Fatalf("Run b: %v", err)
	}
	// b loses the lock; the work function must not run again. Let b's
	// execution settle before asserting.
	waitFor(t, func() bool {
		for _, item := range b.List() {
			if item.Name == "exclusive" && item.Status == StatusFulfill {
				return true
			}
		}
		return false
	})
	if ran.Load() != 1 {
		t.Fatalf("exclusive job ran %d times, expected 1", ran.Load())
	}
}
