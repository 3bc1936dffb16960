// Package cron runs named interval jobs. A job never overlaps itself within a
// process, and jobs marked Exclusive additionally take a store-held lock so
// they fire once per deployment, not once per instance.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yyupcompany/kinder-core/internal/pkg/kv"
	"go.uber.org/zap"
)

// JobStatus represents the last known state of a job.
type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusFulfill JobStatus = "fulfill"
	StatusReject  JobStatus = "reject"
)

// Job defines a scheduled background task.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	// Exclusive jobs acquire a shared-store lock before running so only one
	// instance of the deployment executes each tick.
	Exclusive bool
	Fn        func(ctx context.Context) error
}

// JobState holds runtime state for a registered job.
type JobState struct {
	Job
	Status    JobStatus
	Message   string
	LastRunAt *time.Time
	NextRunAt time.Time
	mu        sync.Mutex
}

// ListItem is the serializable representation of a job for the admin API.
type ListItem struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      JobStatus  `json:"status"`
	NextDate    *time.Time `json:"nextDate"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
}

// Scheduler manages a collection of named interval jobs.
type Scheduler struct {
	mu    sync.RWMutex
	jobs  map[string]*JobState
	store kv.Store
	log   *zap.Logger
}

// New creates an empty Scheduler. store backs the exclusive-job locks.
func New(store kv.Store, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs:  make(map[string]*JobState),
		store: store,
		log:   logger.Named("Cron"),
	}
}

// Register adds a job to the scheduler. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = &JobState{
		Job:       job,
		Status:    StatusIdle,
		NextRunAt: time.Now().Add(job.Interval),
	}
}

// Start launches all registered jobs in background goroutines. Jobs stop when
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, js := range s.jobs {
		go s.runLoop(ctx, js)
	}
}

func (s *Scheduler) runLoop(ctx context.Context, js *JobState) {
	for {
		wait := time.Until(js.NextRunAt)
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.execute(ctx, js)
			js.mu.Lock()
			js.NextRunAt = time.Now().Add(js.Interval)
			js.mu.Unlock()
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, js *JobState) {
	js.mu.Lock()
	if js.Status == StatusRunning {
		js.mu.Unlock()
		return
	}
	js.Status = StatusRunning
	js.mu.Unlock()

	now := time.Now()
	err := s.run(ctx, js)

	js.mu.Lock()
	js.LastRunAt = &now
	if err != nil {
		js.Status = StatusReject
		js.Message = err.Error()
	} else {
		js.Status = StatusFulfill
		js.Message = ""
	}
	js.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, js *JobState) error {
	if js.Exclusive && s.store != nil {
		lockKey := "cron:lock:" + js.Name
		ttl := js.Interval / 2
		if ttl < time.Minute {
			ttl = time.Minute
		}
		ok, err := s.store.SetNX(ctx, lockKey, time.Now().Format(time.RFC3339), ttl)
		if err != nil {
			s.log.Warn("cron lock unavailable, skipping tick", zap.String("job", js.Name), zap.Error(err))
			return err
		}
		if !ok {
			// Another instance holds this tick.
			return nil
		}
	}
	return js.Fn(ctx)
}

// Run manually triggers a job by name (non-blocking).
func (s *Scheduler) Run(ctx context.Context, name string) error {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	go s.execute(ctx, js)
	return nil
}

// List returns a summary of all registered jobs.
func (s *Scheduler) List() []ListItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]ListItem, 0, len(s.jobs))
	for _, js := range s.jobs {
		js.mu.Lock()
		next := js.NextRunAt
		items = append(items, ListItem{
			Name:        js.Name,
			Description: js.Description,
			Status:      js.Status,
			NextDate:    &next,
			LastRunAt:   js.LastRunAt,
		})
		js.mu.Unlock()
	}
	return items
}
