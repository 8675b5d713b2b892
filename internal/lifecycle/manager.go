package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"mediaflow/internal/logging"
	"mediaflow/internal/task"
)

// Manager owns the task store and applies state machine transitions.
type Manager struct {
	store     *task.Store
	logger    *slog.Logger
	now       func() time.Time
	taskLocks keyedMutex
	rowLocks  keyedMutex
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger used for transition records.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New constructs a Manager around an open store.
func New(store *task.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "lifecycle")
	return m
}

// NewTask describes the row a new task is started for.
type NewTask struct {
	RowIndex    int
	ProductName string
	ModelName   string
	Workflow    task.WorkflowType
	Metadata    map[string]string
}

// Get returns a copy of the task.
func (m *Manager) Get(id string) (task.Task, bool) {
	return m.store.Get(id)
}

// ActiveFor returns the active task for a row and workflow, if any.
func (m *Manager) ActiveFor(row int, workflow task.WorkflowType) (task.Task, bool) {
	return m.store.FindByRow(row, workflow)
}

// ListByStatus returns tasks with the given status ordered by creation time.
func (m *Manager) ListByStatus(status task.Status) []task.Task {
	return m.store.ListByStatus(status)
}

// List returns tasks matching the filter.
func (m *Manager) List(filter task.Filter) []task.Task {
	return m.store.List(filter)
}

// History returns every task recorded for a row and workflow.
func (m *Manager) History(row int, workflow task.WorkflowType) []task.Task {
	return m.store.History(row, workflow)
}

// Counters returns the store rollups.
func (m *Manager) Counters() task.Counters {
	return m.store.Counters()
}

// StorePath reports where tasks are persisted.
func (m *Manager) StorePath() string {
	return m.store.Path()
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// StartPhase1 creates a task for the row and moves it to PHASE1_RUNNING. It
// fails with a DuplicateActiveTaskError when the row already has an active
// task for the workflow.
func (m *Manager) StartPhase1(ctx context.Context, req NewTask) (string, error) {
	switch req.Workflow {
	case task.WorkflowImageComposition, task.WorkflowImageToVideo:
	default:
		return "", fmt.Errorf("start phase 1: unknown workflow %q", req.Workflow)
	}
	if req.RowIndex <= 0 {
		return "", fmt.Errorf("start phase 1: invalid row index %d", req.RowIndex)
	}

	unlock := m.rowLocks.lock(strconv.Itoa(req.RowIndex) + "/" + string(req.Workflow))
	defer unlock()

	if existing, ok := m.store.FindByRow(req.RowIndex, req.Workflow); ok {
		return "", &task.DuplicateActiveTaskError{RowIndex: req.RowIndex, Workflow: req.Workflow, ExistingID: existing.ID}
	}

	created := m.now().UTC()
	id := task.NewID(req.RowIndex, req.Workflow, req.ProductName, created)
	for {
		if _, taken := m.store.Get(id); !taken {
			break
		}
		created = created.Add(time.Nanosecond)
		id = task.NewID(req.RowIndex, req.Workflow, req.ProductName, created)
	}

	t := task.Task{
		ID:          id,
		RowIndex:    req.RowIndex,
		ProductName: req.ProductName,
		ModelName:   req.ModelName,
		Workflow:    req.Workflow,
		Status:      task.StatusPending,
		CreatedAt:   created,
		UpdatedAt:   created,
		Metadata:    maps.Clone(req.Metadata),
	}

	unlockTask := m.taskLocks.lock(id)
	defer unlockTask()

	if err := m.store.Put(ctx, t); err != nil {
		return "", err
	}
	t.Status = task.StatusPhase1Running
	t.UpdatedAt = m.stamp(t.CreatedAt)
	if err := m.store.Put(ctx, t); err != nil {
		return "", err
	}

	m.logger.Info("task started",
		logging.String(logging.FieldTaskID, id),
		logging.Int(logging.FieldRow, req.RowIndex),
		logging.String(logging.FieldWorkflow, string(req.Workflow)),
		logging.String("product", req.ProductName),
		logging.String(logging.FieldEventType, "task_started"),
	)
	return id, nil
}

// RecordJob stores the engine job ID for the running phase.
func (m *Manager) RecordJob(ctx context.Context, id, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("record job for %s: empty job id", id)
	}
	return m.transition(ctx, id, "record job", []task.Status{task.StatusPhase1Running, task.StatusPhase2Running}, func(t *task.Task) {
		t.ExternalJobID = jobID
	})
}

// CompletePhase1 records the phase 1 artifact. Single-phase workflows end in
// COMPLETED; two-phase workflows move to PHASE1_DONE.
func (m *Manager) CompletePhase1(ctx context.Context, id, artifactPath string) error {
	var next task.Status
	err := m.transition(ctx, id, "complete phase 1", []task.Status{task.StatusPhase1Running}, func(t *task.Task) {
		t.ImagePath = artifactPath
		if t.Workflow.Phases() > 1 {
			next = task.StatusPhase1Done
		} else {
			next = task.StatusCompleted
		}
		t.Status = next
	})
	if err == nil {
		m.logTransition(id, next, "task_phase1_completed")
	}
	return err
}

// StartPhase2 moves a task from PHASE1_DONE to PHASE2_RUNNING and clears the
// phase 1 job ID.
func (m *Manager) StartPhase2(ctx context.Context, id string) error {
	err := m.transition(ctx, id, "start phase 2", []task.Status{task.StatusPhase1Done}, func(t *task.Task) {
		t.ExternalJobID = ""
		t.Status = task.StatusPhase2Running
	})
	if err == nil {
		m.logTransition(id, task.StatusPhase2Running, "task_phase2_started")
	}
	return err
}

// CompletePhase2 records the video artifact and completes the task.
func (m *Manager) CompletePhase2(ctx context.Context, id, artifactPath string) error {
	err := m.transition(ctx, id, "complete phase 2", []task.Status{task.StatusPhase2Running}, func(t *task.Task) {
		t.VideoPath = artifactPath
		t.Status = task.StatusCompleted
	})
	if err == nil {
		m.logTransition(id, task.StatusCompleted, "task_phase2_completed")
	}
	return err
}

// Fail moves a non-terminal task to FAILED. Failing an already failed task
// is a no-op that keeps the original message.
func (m *Manager) Fail(ctx context.Context, id, message string) error {
	unlock := m.taskLocks.lock(id)
	defer unlock()

	t, ok := m.store.Get(id)
	if !ok {
		return fmt.Errorf("fail %s: %w", id, task.ErrNotFound)
	}
	switch t.Status {
	case task.StatusFailed:
		return nil
	case task.StatusCompleted:
		return &task.InvalidTransitionError{TaskID: id, Op: "fail", From: t.Status}
	}

	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	from := t.Status
	t.Status = task.StatusFailed
	t.ErrorMessage = message
	t.UpdatedAt = m.stamp(t.CreatedAt)
	if err := m.store.Put(ctx, t); err != nil {
		return err
	}

	logging.WarnWithContext(m.logger, "task failed", "task_failed",
		logging.String(logging.FieldTaskID, id),
		logging.Int(logging.FieldRow, t.RowIndex),
		logging.String(logging.FieldWorkflow, string(t.Workflow)),
		logging.String("from", string(from)),
		logging.String("reason", message),
		logging.String(logging.FieldErrorHint, "inspect with 'mediaflow tasks show "+id+"'; rerun with --retry to requeue the row"),
		logging.String(logging.FieldImpact, "row is marked failed in the sheet"),
	)
	return nil
}

func (m *Manager) transition(ctx context.Context, id, op string, allowed []task.Status, mutate func(*task.Task)) error {
	unlock := m.taskLocks.lock(id)
	defer unlock()

	t, ok := m.store.Get(id)
	if !ok {
		return fmt.Errorf("%s %s: %w", op, id, task.ErrNotFound)
	}
	if !slices.Contains(allowed, t.Status) {
		return &task.InvalidTransitionError{TaskID: id, Op: op, From: t.Status}
	}
	mutate(&t)
	t.UpdatedAt = m.stamp(t.CreatedAt)
	return m.store.Put(ctx, t)
}

// stamp returns the current time, never earlier than the creation time.
func (m *Manager) stamp(created time.Time) time.Time {
	now := m.now().UTC()
	if now.Before(created) {
		return created
	}
	return now
}

func (m *Manager) logTransition(id string, status task.Status, event string) {
	t, _ := m.store.Get(id)
	m.logger.Info("task transitioned",
		logging.String(logging.FieldTaskID, id),
		logging.Int(logging.FieldRow, t.RowIndex),
		logging.String(logging.FieldWorkflow, string(t.Workflow)),
		logging.String("status", string(status)),
		logging.String(logging.FieldEventType, event),
	)
}
