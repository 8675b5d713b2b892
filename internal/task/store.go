package task

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"mediaflow/internal/logging"
)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Options configures Open.
type Options struct {
	Backend string
	Path    string
	Logger  *slog.Logger
}

// change is one atomic mutation handed to a backend.
type change struct {
	upserts  []Task
	deletes  []string
	tasks    map[string]Task
	counters Counters
	at       time.Time
}

type backend interface {
	load(ctx context.Context) (map[string]Task, *Counters, error)
	commit(ctx context.Context, c change) error
	close() error
}

type rowKey struct {
	row      int
	workflow WorkflowType
}

func (k rowKey) String() string {
	return strconv.Itoa(k.row) + "/" + string(k.workflow)
}

// Store is the durable task table plus its in-memory indexes.
type Store struct {
	mu       sync.RWMutex
	backend  backend
	path     string
	logger   *slog.Logger
	tasks    map[string]Task
	active   map[rowKey]string
	counters Counters
}

// Open loads the store at opts.Path, creating it when absent.
func Open(ctx context.Context, opts Options) (*Store, error) {
	logger := logging.NewComponentLogger(opts.Logger, "task-store")

	var (
		b   backend
		err error
	)
	switch opts.Backend {
	case "", BackendJSON:
		b, err = newSnapshotBackend(opts.Path)
	case BackendSQLite:
		b, err = openSQLiteBackend(ctx, opts.Path)
	default:
		return nil, fmt.Errorf("unknown task store backend %q", opts.Backend)
	}
	if err != nil {
		return nil, storageErr("open", opts.Path, err)
	}

	tasks, persisted, err := b.load(ctx)
	if err != nil {
		_ = b.close()
		return nil, storageErr("load", opts.Path, err)
	}

	s := &Store{
		backend:  b,
		path:     opts.Path,
		logger:   logger,
		tasks:    make(map[string]Task, len(tasks)),
		active:   make(map[rowKey]string),
		counters: newCounters(),
	}
	for id, t := range tasks {
		if t.ID == "" {
			t.ID = id
		}
		s.tasks[t.ID] = t
		s.counters.add(t.Status, 1)
		if t.IsActive() {
			key := rowKey{row: t.RowIndex, workflow: t.Workflow}
			if other, ok := s.active[key]; ok {
				logger.Warn("multiple active tasks for row; keeping the newest in the index",
					logging.String(logging.FieldEventType, "task_store_duplicate_active"),
					logging.String(logging.FieldErrorHint, "fail one of the tasks with 'mediaflow recover'"),
					logging.String(logging.FieldImpact, "only one task per row is tracked as active"),
					logging.String("row_key", key.String()),
					logging.String("task_a", other),
					logging.String("task_b", t.ID),
				)
				if s.tasks[other].CreatedAt.After(t.CreatedAt) {
					continue
				}
			}
			s.active[key] = t.ID
		}
	}
	if persisted != nil && !persisted.Equal(s.counters) {
		logger.Warn("persisted counters disagree with task records; using recomputed values",
			logging.String(logging.FieldEventType, "task_store_counter_drift"),
			logging.String(logging.FieldErrorHint, "counters are rewritten on the next change"),
			logging.Int("persisted_total", persisted.Total),
			logging.Int("recomputed_total", s.counters.Total),
		)
	}
	logger.Debug("task store opened",
		logging.String("backend", cmp.Or(opts.Backend, BackendJSON)),
		logging.String("path", opts.Path),
		logging.Int("tasks", len(s.tasks)),
	)
	return s, nil
}

// Path returns the on-disk location of the store.
func (s *Store) Path() string {
	return s.path
}

// Put inserts or replaces a task and persists the change before returning.
// When persistence fails the in-memory state is left untouched.
func (s *Store) Put(ctx context.Context, t Task) error {
	if t.ID == "" {
		return fmt.Errorf("put task: empty id")
	}
	t = t.Clone()
	if len(t.Metadata) == 0 {
		t.Metadata = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey{row: t.RowIndex, workflow: t.Workflow}
	if t.IsActive() {
		if existing, ok := s.active[key]; ok && existing != t.ID {
			return &DuplicateActiveTaskError{RowIndex: t.RowIndex, Workflow: t.Workflow, ExistingID: existing}
		}
	}

	prev, hadPrev := s.tasks[t.ID]
	prevActive, hadActive := s.active[key]

	s.apply(t, prev, hadPrev)
	err := s.backend.commit(ctx, change{
		upserts:  []Task{t},
		tasks:    s.tasks,
		counters: s.counters,
		at:       time.Now().UTC(),
	})
	if err == nil {
		return nil
	}

	s.revert(t, prev, hadPrev)
	if hadActive {
		s.active[key] = prevActive
	}
	return storageErr("put", s.path, err)
}

func (s *Store) apply(t, prev Task, hadPrev bool) {
	if hadPrev {
		s.counters.add(prev.Status, -1)
		prevKey := rowKey{row: prev.RowIndex, workflow: prev.Workflow}
		if s.active[prevKey] == prev.ID {
			delete(s.active, prevKey)
		}
	}
	s.tasks[t.ID] = t
	s.counters.add(t.Status, 1)
	if t.IsActive() {
		s.active[rowKey{row: t.RowIndex, workflow: t.Workflow}] = t.ID
	}
}

func (s *Store) revert(t, prev Task, hadPrev bool) {
	s.counters.add(t.Status, -1)
	key := rowKey{row: t.RowIndex, workflow: t.Workflow}
	if s.active[key] == t.ID {
		delete(s.active, key)
	}
	if !hadPrev {
		delete(s.tasks, t.ID)
		return
	}
	s.tasks[t.ID] = prev
	s.counters.add(prev.Status, 1)
	if prev.IsActive() {
		s.active[rowKey{row: prev.RowIndex, workflow: prev.Workflow}] = prev.ID
	}
}

// Get returns a copy of the task with the given ID.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Clone(), true
}

// FindByRow returns the active task for a row and workflow, if any.
func (s *Store) FindByRow(row int, workflow WorkflowType) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[rowKey{row: row, workflow: workflow}]
	if !ok {
		return Task{}, false
	}
	return s.tasks[id].Clone(), true
}

// ListByStatus returns tasks with the given status ordered by creation time.
func (s *Store) ListByStatus(status Status) []Task {
	return s.List(Filter{Statuses: []Status{status}})
}

// List returns tasks matching the filter ordered by creation time, then ID.
func (s *Store) List(filter Filter) []Task {
	s.mu.RLock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.matches(t) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()
	sortTasks(out)
	return out
}

// History returns every task ever recorded for a row and workflow.
func (s *Store) History(row int, workflow WorkflowType) []Task {
	return s.List(Filter{RowIndex: row, Workflow: workflow})
}

// Counters returns a copy of the maintained rollups.
func (s *Store) Counters() Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters.clone()
}

// Remove deletes the given tasks. Unknown IDs are ignored. It returns the
// number of records removed.
func (s *Store) Remove(ctx context.Context, ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]Task, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			removed[id] = t
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	deletes := make([]string, 0, len(removed))
	for id, t := range removed {
		delete(s.tasks, id)
		s.counters.add(t.Status, -1)
		key := rowKey{row: t.RowIndex, workflow: t.Workflow}
		if s.active[key] == id {
			delete(s.active, key)
		}
		deletes = append(deletes, id)
	}
	slices.Sort(deletes)

	err := s.backend.commit(ctx, change{
		deletes:  deletes,
		tasks:    s.tasks,
		counters: s.counters,
		at:       time.Now().UTC(),
	})
	if err == nil {
		return len(deletes), nil
	}
	for id, t := range removed {
		s.tasks[id] = t
		s.counters.add(t.Status, 1)
		if t.IsActive() {
			s.active[rowKey{row: t.RowIndex, workflow: t.Workflow}] = id
		}
	}
	return 0, storageErr("remove", s.path, err)
}

// Close releases backend resources.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.close()
}

func sortTasks(tasks []Task) {
	slices.SortFunc(tasks, func(a, b Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
