package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"mediaflow/internal/config"
	"mediaflow/internal/lifecycle"
	"mediaflow/internal/logging"
	"mediaflow/internal/notifications"
	"mediaflow/internal/recovery"
	"mediaflow/internal/task"
	"mediaflow/internal/workflow"
)

// ErrAlreadyRunning is returned when another process holds the run lock.
var ErrAlreadyRunning = errors.New("another mediaflow run is already active")

// Daemon sequences maintenance, recovery, and workflow passes under the run lock.
type Daemon struct {
	cfg      *config.Config
	tasks    *lifecycle.Manager
	runner   *workflow.Runner
	recovery *recovery.Coordinator
	notifier notifications.Service
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
	logPath  string

	lockPath string
	lock     *flock.Flock
	running  atomic.Bool
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithLogger sets the daemon logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithNotifier sets the notification service used for recovery summaries.
func WithNotifier(notifier notifications.Service) Option {
	return func(d *Daemon) {
		if notifier != nil {
			d.notifier = notifier
		}
	}
}

// WithSleeper overrides the wait between watch passes.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(d *Daemon) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// WithLogPath names the current run log so log pruning never removes it.
func WithLogPath(path string) Option {
	return func(d *Daemon) {
		d.logPath = path
	}
}

// New constructs a daemon from its collaborators.
func New(cfg *config.Config, tasks *lifecycle.Manager, runner *workflow.Runner, coord *recovery.Coordinator, opts ...Option) (*Daemon, error) {
	if cfg == nil || tasks == nil || runner == nil || coord == nil {
		return nil, errors.New("daemon requires config, task manager, runner, and recovery coordinator")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		tasks:    tasks,
		runner:   runner,
		recovery: coord,
		notifier: notifications.NewService(nil),
		logger:   logging.NewNop(),
		sleep:    sleepContext,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "daemon")
	return d, nil
}

// RunOptions selects how a run behaves after recovery.
type RunOptions struct {
	Retry bool
	// Watch repeats passes every workflow.check_interval until ctx ends.
	Watch bool
}

// Result collects what a run did.
type Result struct {
	Recovery recovery.Summary
	Report   workflow.Report
	Passes   int
}

// Run acquires the lock, prunes old state, recovers interrupted tasks, and
// runs passes. In watch mode a failed pass is logged and retried on the next
// interval; only storage failures and cancellation stop the loop.
func (d *Daemon) Run(ctx context.Context, opts RunOptions) (Result, error) {
	release, err := d.acquire()
	if err != nil {
		return Result{}, err
	}
	defer release()

	d.maintain(ctx)

	var result Result
	result.Recovery, result.Report, err = d.recover(ctx)
	if err != nil {
		return result, err
	}

	for {
		report, err := d.runner.RunPass(ctx, workflow.PassOptions{Retry: opts.Retry})
		result.Report = result.Report.Merge(report)
		result.Passes++
		if !opts.Watch {
			return result, err
		}
		if err != nil {
			if errors.Is(err, task.ErrStorage) {
				logging.ErrorWithContext(d.logger, "task store failure; stopping watch", "watch_aborted",
					logging.Int("pass", result.Passes),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check disk space and permissions on the state directory"),
				)
				return result, err
			}
			if ctx.Err() != nil {
				return result, err
			}
			logging.WarnWithContext(d.logger, "pass failed; waiting for next interval", "pass_failed",
				logging.Int("pass", result.Passes),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check sheet connectivity and credentials"),
				logging.String(logging.FieldImpact, "rows wait for the next pass"),
			)
		}
		d.logger.Debug("waiting for next pass",
			logging.Duration("interval", d.cfg.CheckInterval()),
		)
		if err := d.sleep(ctx, d.cfg.CheckInterval()); err != nil {
			return result, err
		}
	}
}

// Recover runs only the recovery pass and the resume of its tasks.
func (d *Daemon) Recover(ctx context.Context) (Result, error) {
	release, err := d.acquire()
	if err != nil {
		return Result{}, err
	}
	defer release()

	var result Result
	result.Recovery, result.Report, err = d.recover(ctx)
	return result, err
}

func (d *Daemon) recover(ctx context.Context) (recovery.Summary, workflow.Report, error) {
	summary, err := d.recovery.Run(ctx)
	if summary.Inspected > 0 {
		if nerr := d.notifier.NotifyRecovery(ctx, summary.Resumed, summary.Completed, summary.Failed); nerr != nil {
			d.logger.Debug("recovery notification failed", logging.Error(nerr))
		}
	}
	if err != nil {
		return summary, workflow.Report{}, fmt.Errorf("recovery: %w", err)
	}

	ids := make([]string, 0, len(summary.Resume))
	for _, r := range summary.Resume {
		ids = append(ids, r.TaskID)
	}
	report, err := d.runner.Resume(ctx, ids)
	if err != nil {
		return summary, report, fmt.Errorf("resume: %w", err)
	}
	return summary, report, nil
}

// maintain prunes completed tasks and run logs past their retention.
func (d *Daemon) maintain(ctx context.Context) {
	if retention := d.cfg.Retention(); retention > 0 {
		if _, err := d.tasks.Cleanup(ctx, retention); err != nil {
			logging.WarnWithContext(d.logger, "task cleanup failed", "task_cleanup_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run 'mediaflow tasks cleanup' manually"),
			)
		}
	}
	removed := logging.CleanupOldLogs(d.logger, d.cfg.Paths.LogDir, logging.RunLogPattern, d.cfg.Logging.RetentionDays, d.logPath)
	if removed > 0 {
		d.logger.Info("old run logs removed", logging.Int("removed", removed))
	}
}

func (d *Daemon) acquire() (func(), error) {
	if d.running.Load() {
		return nil, errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, d.lockPath)
	}
	d.running.Store(true)
	d.logger.Info("mediaflow run started", logging.String("lock", d.lockPath))
	return func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release run lock", logging.Error(err))
		}
		d.running.Store(false)
		d.logger.Info("mediaflow run stopped")
	}, nil
}

// Running reports whether this daemon currently holds the run lock.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LockPath returns the path of the run lock file.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
