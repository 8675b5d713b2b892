package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/lifecycle"
	"mediaflow/internal/task"
)

// MustOpenStore opens the task store described by cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *task.Store {
	t.Helper()

	store, err := task.Open(context.Background(), task.Options{Backend: cfg.Store.Backend, Path: cfg.StorePath()})
	if err != nil {
		t.Fatalf("task.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenManager opens a store and wraps it in a lifecycle manager.
func MustOpenManager(t testing.TB, cfg *config.Config, opts ...lifecycle.Option) *lifecycle.Manager {
	t.Helper()
	return lifecycle.New(MustOpenStore(t, cfg), opts...)
}

// StartTask starts a task for tests and fails the test on error.
func StartTask(t testing.TB, mgr *lifecycle.Manager, row int, workflow task.WorkflowType, meta map[string]string) string {
	t.Helper()

	id, err := mgr.StartPhase1(context.Background(), lifecycle.NewTask{
		RowIndex:    row,
		ProductName: "Product",
		ModelName:   "Model",
		Workflow:    workflow,
		Metadata:    meta,
	})
	if err != nil {
		t.Fatalf("StartPhase1: %v", err)
	}
	return id
}

// Clock is a manually advanced time source safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock starting at the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep advances the clock instead of blocking. It matches the sleeper hooks
// used by pollers and HTTP clients.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}
