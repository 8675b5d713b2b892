package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mediaflow/internal/engine"
	"mediaflow/internal/logging"
	"mediaflow/internal/task"
)

const (
	msgNotSubmitted      = "job lost: interrupted before submission"
	msgBeforePhase2      = "interrupted before phase 2"
	msgUnknownJobPattern = "job lost: engine has no record of job %s"
)

// TaskManager is the slice of the lifecycle manager recovery drives.
type TaskManager interface {
	ListByStatus(status task.Status) []task.Task
	Get(id string) (task.Task, bool)
	CompletePhase1(ctx context.Context, id, artifactPath string) error
	CompletePhase2(ctx context.Context, id, artifactPath string) error
	Fail(ctx context.Context, id, message string) error
}

// Finisher completes the work around a recovered job.
type Finisher interface {
	// StoreArtifact writes fetched artifact bytes for the task's current
	// phase and returns the local path.
	StoreArtifact(ctx context.Context, t task.Task, data []byte) (string, error)
	// ContinuePhase2 starts and submits phase 2 for a PHASE1_DONE task. It
	// returns false without side effects when phase 2 cannot run.
	ContinuePhase2(ctx context.Context, t task.Task) (bool, error)
	// Publish writes a completed task's result, or a failed task's reason,
	// to the sheet.
	Publish(ctx context.Context, t task.Task) error
}

// Resume names a task left for the runner to keep polling.
type Resume struct {
	TaskID string
	Phase  int
}

// Summary counts what a recovery pass did.
type Summary struct {
	Inspected int
	Resumed   int
	Completed int
	Failed    int
	Resume    []Resume
}

// Coordinator runs the startup recovery pass.
type Coordinator struct {
	Tasks    TaskManager
	Engine   engine.Engine
	Finisher Finisher
	Logger   *slog.Logger
}

type outcome int

const (
	outcomeResumed outcome = iota
	outcomeCompleted
	outcomeFailed
)

// Run inspects every non-terminal task once.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	logger := c.logger()
	var summary Summary

	var pending []task.Task
	for _, status := range task.NonTerminalStatuses() {
		pending = append(pending, c.Tasks.ListByStatus(status)...)
	}
	if len(pending) == 0 {
		logger.Debug("no tasks to recover")
		return summary, nil
	}
	logger.Info("recovering tasks",
		logging.Int("count", len(pending)),
		logging.String(logging.FieldEventType, "recovery_started"),
	)

	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Inspected++
		result, err := c.recoverTask(ctx, t)
		if err != nil {
			if errors.Is(err, task.ErrStorage) {
				return summary, err
			}
			if ferr := c.fail(ctx, t.ID, err.Error()); ferr != nil {
				return summary, ferr
			}
			result = outcomeFailed
		}
		switch result {
		case outcomeResumed:
			current, _ := c.Tasks.Get(t.ID)
			summary.Resumed++
			summary.Resume = append(summary.Resume, Resume{TaskID: t.ID, Phase: current.Phase()})
		case outcomeCompleted:
			summary.Completed++
		case outcomeFailed:
			summary.Failed++
			c.publish(ctx, t.ID)
		}
	}

	logger.Info("recovery finished",
		logging.Int("inspected", summary.Inspected),
		logging.Int("resumed", summary.Resumed),
		logging.Int("completed", summary.Completed),
		logging.Int("failed", summary.Failed),
		logging.String(logging.FieldEventType, "recovery_finished"),
	)
	return summary, nil
}

func (c *Coordinator) recoverTask(ctx context.Context, t task.Task) (outcome, error) {
	if t.Status == task.StatusPhase1Done {
		return c.continuePhase2(ctx, t)
	}
	if t.ExternalJobID == "" {
		return outcomeFailed, c.fail(ctx, t.ID, msgNotSubmitted)
	}

	status, err := c.Engine.Poll(ctx, t.ExternalJobID)
	if err != nil {
		return outcomeFailed, fmt.Errorf("poll job %s: %w", t.ExternalJobID, err)
	}
	switch status.State {
	case engine.StatePending, engine.StateRunning:
		return outcomeResumed, nil
	case engine.StateFailed:
		jobErr := &engine.JobError{JobID: t.ExternalJobID, Message: status.Message}
		return outcomeFailed, c.fail(ctx, t.ID, jobErr.Error())
	case engine.StateSucceeded:
		return c.finishJob(ctx, t, status)
	default:
		return outcomeFailed, c.fail(ctx, t.ID, fmt.Sprintf(msgUnknownJobPattern, t.ExternalJobID))
	}
}

func (c *Coordinator) finishJob(ctx context.Context, t task.Task, status engine.Status) (outcome, error) {
	if len(status.Artifacts) == 0 {
		return outcomeFailed, fmt.Errorf("job %s succeeded without artifacts", t.ExternalJobID)
	}
	data, err := c.Engine.Fetch(ctx, engine.PrimaryArtifact(status.Artifacts))
	if err != nil {
		return outcomeFailed, fmt.Errorf("fetch artifact for job %s: %w", t.ExternalJobID, err)
	}
	path, err := c.Finisher.StoreArtifact(ctx, t, data)
	if err != nil {
		return outcomeFailed, fmt.Errorf("store artifact for job %s: %w", t.ExternalJobID, err)
	}

	if t.Status == task.StatusPhase2Running {
		if err := c.Tasks.CompletePhase2(ctx, t.ID, path); err != nil {
			return outcomeFailed, err
		}
		c.publish(ctx, t.ID)
		return outcomeCompleted, nil
	}
	if err := c.Tasks.CompletePhase1(ctx, t.ID, path); err != nil {
		return outcomeFailed, err
	}
	current, ok := c.Tasks.Get(t.ID)
	if !ok {
		return outcomeFailed, fmt.Errorf("task %s: %w", t.ID, task.ErrNotFound)
	}
	if current.Status == task.StatusCompleted {
		c.publish(ctx, t.ID)
		return outcomeCompleted, nil
	}
	return c.continuePhase2(ctx, current)
}

func (c *Coordinator) continuePhase2(ctx context.Context, t task.Task) (outcome, error) {
	ok, err := c.Finisher.ContinuePhase2(ctx, t)
	if err != nil {
		return outcomeFailed, fmt.Errorf("continue phase 2: %w", err)
	}
	if !ok {
		return outcomeFailed, c.fail(ctx, t.ID, msgBeforePhase2)
	}
	return outcomeResumed, nil
}

// publish writes a terminal task to the sheet. Sheet errors are logged; the
// task state is already final.
func (c *Coordinator) publish(ctx context.Context, id string) {
	t, ok := c.Tasks.Get(id)
	if !ok || !t.Status.IsTerminal() {
		return
	}
	if err := c.Finisher.Publish(ctx, t); err != nil {
		logging.WarnWithContext(c.logger(), "publish recovered result failed", "recovery_publish_failed",
			logging.String(logging.FieldTaskID, id),
			logging.Int(logging.FieldRow, t.RowIndex),
			logging.String("status", string(t.Status)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check sheet credentials and rerun"),
			logging.String(logging.FieldImpact, "sheet row not updated"),
		)
	}
}

// fail tolerates tasks that already reached a terminal state.
func (c *Coordinator) fail(ctx context.Context, id, message string) error {
	if err := c.Tasks.Fail(ctx, id, message); err != nil && !errors.Is(err, task.ErrInvalidTransition) {
		return err
	}
	return nil
}

func (c *Coordinator) logger() *slog.Logger {
	logger := c.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return logging.NewComponentLogger(logger, "recovery")
}
