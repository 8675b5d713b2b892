package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mediaflow/internal/config"
	"mediaflow/internal/engine"
	"mediaflow/internal/lifecycle"
	"mediaflow/internal/logging"
	"mediaflow/internal/notifications"
	"mediaflow/internal/recovery"
	"mediaflow/internal/services"
	"mediaflow/internal/sheet"
	"mediaflow/internal/task"
)

// Runner drives spreadsheet rows through the workflows.
type Runner struct {
	cfg       *config.Config
	tasks     *lifecycle.Manager
	engine    engine.Engine
	sheet     sheet.Sheet
	notifier  notifications.Service
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
	artifacts *Artifacts
	poller    *Poller
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithNotifier sets the notification service.
func WithNotifier(notifier notifications.Service) RunnerOption {
	return func(r *Runner) {
		if notifier != nil {
			r.notifier = notifier
		}
	}
}

// WithOptions overrides the eligibility options read from config.
func WithOptions(opts Options) RunnerOption {
	return func(r *Runner) {
		r.opts = opts
	}
}

// WithClock overrides the time source used for deadlines and file names.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSleeper overrides how poll and retry waits are performed.
func WithSleeper(sleep func(context.Context, time.Duration) error) RunnerOption {
	return func(r *Runner) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRunner wires a runner from its collaborators.
func NewRunner(cfg *config.Config, tasks *lifecycle.Manager, eng engine.Engine, sh sheet.Sheet, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:      cfg,
		tasks:    tasks,
		engine:   eng,
		sheet:    sh,
		notifier: notifications.NewService(nil),
		logger:   logging.NewNop(),
		opts:     OptionsFromConfig(cfg),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "workflow")
	r.artifacts = NewArtifacts(cfg.ImageOutputDir(), cfg.VideoOutputDir(), r.now)
	r.poller = &Poller{
		engine:      eng,
		interval:    cfg.PollInterval(),
		timeout:     cfg.PollTimeout(),
		maxFailures: cfg.Workflow.StatusCheckFailures,
		now:         r.now,
		sleep:       r.sleep,
		logger:      r.logger,
	}
	return r
}

var _ recovery.Finisher = (*Runner)(nil)

// PassOptions adjusts a single pass.
type PassOptions struct {
	Retry bool
}

type rowPlan struct {
	row   sheet.Row
	image Decision
	video Decision
}

// RunPass fetches rows and drives every eligible one. Per-row failures are
// recorded on the task and in the report; only task store failures and
// cancellation end the pass early.
func (r *Runner) RunPass(ctx context.Context, pass PassOptions) (Report, error) {
	report := Report{Started: r.now()}
	passID := uuid.NewString()
	ctx = services.WithRequestID(ctx, passID)
	logger := logging.WithContext(ctx, r.logger)

	rows, err := r.sheet.FetchRows(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch rows: %w", err)
	}

	opts := r.opts
	opts.Retry = pass.Retry
	imageDriver := NewImageDriver(opts)
	videoDriver := NewVideoDriver(opts)

	var plans []rowPlan
	for _, row := range rows {
		plan := rowPlan{
			row:   row,
			image: imageDriver.Evaluate(row, r.failures(row.Index, task.WorkflowImageComposition)),
			video: videoDriver.Evaluate(row, r.failures(row.Index, task.WorkflowImageToVideo)),
		}
		if plan.image.Eligible || plan.video.Eligible || r.chainsVideo(plan, videoDriver) {
			plans = append(plans, plan)
			continue
		}
		report.Results = append(report.Results, skipped(row, task.WorkflowImageComposition, plan.image))
		report.Results = append(report.Results, skipped(row, task.WorkflowImageToVideo, plan.video))
	}

	logger.Info("pass started",
		logging.Int("rows", len(rows)),
		logging.Int("eligible", len(plans)),
		logging.Bool("retry", pass.Retry),
		logging.String(logging.FieldEventType, "pass_started"),
	)
	r.notify(ctx, "run started", func(ctx context.Context) error {
		return r.notifier.NotifyRunStarted(ctx, len(plans))
	})

	var mu sync.Mutex
	record := func(results ...RowResult) {
		mu.Lock()
		report.Results = append(report.Results, results...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.Workflow.MaxConcurrent))
	for _, plan := range plans {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return r.driveRow(gctx, plan, videoDriver, record)
		})
	}
	err = g.Wait()
	report.Duration = r.now().Sub(report.Started)

	completed, failed := report.Count(OutcomeCompleted), report.Count(OutcomeFailed)
	logger.Info("pass finished",
		logging.Int("completed", completed),
		logging.Int("failed", failed),
		logging.Int("skipped", report.Count(OutcomeSkipped)),
		logging.Int("duplicate", report.Count(OutcomeDuplicate)),
		logging.Duration("duration", report.Duration),
		logging.String(logging.FieldEventType, "pass_finished"),
	)
	r.notify(ctx, "run completed", func(ctx context.Context) error {
		return r.notifier.NotifyRunCompleted(ctx, completed, failed, report.Duration)
	})
	if err == nil {
		err = ctx.Err()
	}
	return report, err
}

// chainsVideo reports whether an eligible image drive would make the video
// workflow eligible once the composite exists.
func (r *Runner) chainsVideo(plan rowPlan, video VideoDriver) bool {
	if !plan.image.Eligible {
		return false
	}
	row := plan.row
	row.Composite = sheet.Present("pending")
	return video.Evaluate(row, r.failures(row.Index, task.WorkflowImageToVideo)).Eligible
}

func (r *Runner) driveRow(ctx context.Context, plan rowPlan, video VideoDriver, record func(...RowResult)) error {
	row := plan.row
	ctx = services.WithRow(ctx, row.Index)

	if plan.image.Eligible {
		res, err := r.driveImage(ctx, row)
		record(res)
		if err != nil {
			return err
		}
		if res.Outcome == OutcomeCompleted {
			row.Composite = sheet.Present(res.Artifact)
			plan.video = video.Evaluate(row, r.failures(row.Index, task.WorkflowImageToVideo))
		}
	} else {
		record(skipped(row, task.WorkflowImageComposition, plan.image))
	}

	if !plan.video.Eligible {
		record(skipped(row, task.WorkflowImageToVideo, plan.video))
		return nil
	}
	res, err := r.driveVideo(ctx, row)
	record(res)
	return err
}

// Resume keeps polling tasks handed back by recovery until they finish.
func (r *Runner) Resume(ctx context.Context, ids []string) (Report, error) {
	report := Report{Started: r.now()}
	if len(ids) == 0 {
		return report, nil
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.Workflow.MaxConcurrent))
	for _, id := range ids {
		g.Go(func() error {
			res, err := r.resumeTask(gctx, id)
			mu.Lock()
			report.Results = append(report.Results, res)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	report.Duration = r.now().Sub(report.Started)
	return report, err
}

func (r *Runner) resumeTask(ctx context.Context, id string) (RowResult, error) {
	t, ok := r.tasks.Get(id)
	if !ok {
		return RowResult{TaskID: id, Outcome: OutcomeSkipped, Reason: "task not found"}, nil
	}
	res := RowResult{Row: t.RowIndex, Label: label(t.ProductName, t.ModelName), Workflow: t.Workflow, TaskID: id}
	if !t.IsActive() {
		res.Outcome = OutcomeSkipped
		res.Reason = "task already " + string(t.Status)
		return res, nil
	}
	ctx = withTaskContext(ctx, t)
	start := r.now()
	err := r.await(ctx, id)
	return r.finish(ctx, res, start, err)
}

// driveImage runs image composition for the row.
func (r *Runner) driveImage(ctx context.Context, row sheet.Row) (RowResult, error) {
	res := RowResult{Row: row.Index, Label: row.Label(), Workflow: task.WorkflowImageComposition}
	start := r.now()
	id, err := r.start(ctx, row, task.WorkflowImageComposition, map[string]string{
		task.MetaProductImage: row.ProductImage.Ref(),
		task.MetaModelImage:   row.ModelImage.Ref(),
		task.MetaPrompt:       row.Prompt,
	})
	if id == "" {
		return startResult(res, err)
	}
	res.TaskID = id
	t, _ := r.tasks.Get(id)
	ctx = withTaskContext(ctx, t)

	err = r.submitImage(ctx, id, row)
	if err == nil {
		err = r.await(ctx, id)
	}
	return r.finish(ctx, res, start, err)
}

// driveVideo materializes the composite as phase 1 and generates the video
// as phase 2.
func (r *Runner) driveVideo(ctx context.Context, row sheet.Row) (RowResult, error) {
	res := RowResult{Row: row.Index, Label: row.Label(), Workflow: task.WorkflowImageToVideo}
	start := r.now()
	id, err := r.start(ctx, row, task.WorkflowImageToVideo, map[string]string{
		task.MetaCompositeRef: row.Composite.Ref(),
		task.MetaPrompt:       row.Prompt,
	})
	if id == "" {
		return startResult(res, err)
	}
	res.TaskID = id
	t, _ := r.tasks.Get(id)
	ctx = withTaskContext(ctx, t)

	err = r.runVideo(ctx, id, row)
	return r.finish(ctx, res, start, err)
}

func (r *Runner) runVideo(ctx context.Context, id string, row sheet.Row) error {
	path, err := r.materializeComposite(ctx, row)
	if err != nil {
		return err
	}
	if err := r.tasks.CompletePhase1(ctx, id, path); err != nil {
		return err
	}
	if err := r.startPhase2(ctx, id); err != nil {
		return err
	}
	return r.await(ctx, id)
}

func (r *Runner) start(ctx context.Context, row sheet.Row, workflow task.WorkflowType, meta map[string]string) (string, error) {
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		meta[task.MetaCorrelationID] = rid
	}
	return r.tasks.StartPhase1(ctx, lifecycle.NewTask{
		RowIndex:    row.Index,
		ProductName: row.ProductName,
		ModelName:   row.ModelName,
		Workflow:    workflow,
		Metadata:    meta,
	})
}

// startResult maps a StartPhase1 error. Duplicates are skipped locally;
// storage failures abort the pass.
func startResult(res RowResult, err error) (RowResult, error) {
	switch {
	case errors.Is(err, task.ErrDuplicateActive):
		res.Outcome = OutcomeDuplicate
		res.Reason = err.Error()
		return res, nil
	case errors.Is(err, task.ErrStorage):
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		return res, err
	default:
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		return res, nil
	}
}

// finish converts a drive error into a Fail transition and publishes the
// terminal task. Cancellation leaves the task running for recovery.
func (r *Runner) finish(ctx context.Context, res RowResult, start time.Time, driveErr error) (RowResult, error) {
	res.Duration = r.now().Sub(start)
	logger := logging.WithContext(ctx, r.logger)

	switch {
	case driveErr == nil:
	case errors.Is(driveErr, task.ErrStorage):
		res.Outcome = OutcomeFailed
		res.Reason = driveErr.Error()
		return res, driveErr
	case ctx.Err() != nil:
		res.Outcome = OutcomeInterrupted
		res.Reason = "interrupted; recovery will reconcile the task on next start"
		logger.Info("drive interrupted", logging.String(logging.FieldEventType, "drive_interrupted"))
		return res, nil
	default:
		if err := r.tasks.Fail(ctx, res.TaskID, driveErr.Error()); err != nil && errors.Is(err, task.ErrStorage) {
			return res, err
		}
	}

	t, ok := r.tasks.Get(res.TaskID)
	if !ok {
		res.Outcome = OutcomeFailed
		res.Reason = "task vanished from store"
		return res, nil
	}
	switch t.Status {
	case task.StatusCompleted:
		res.Outcome = OutcomeCompleted
		res.Artifact = t.ImagePath
		if t.Workflow == task.WorkflowImageToVideo {
			res.Artifact = t.VideoPath
		}
	case task.StatusFailed:
		res.Outcome = OutcomeFailed
		res.Reason = t.ErrorMessage
		r.notify(ctx, "task failed", func(ctx context.Context) error {
			return r.notifier.NotifyTaskFailed(ctx, res.Label, string(t.Workflow), t.ErrorMessage)
		})
	default:
		res.Outcome = OutcomeFailed
		res.Reason = "task left in " + string(t.Status)
		return res, nil
	}

	if err := r.Publish(ctx, t); err != nil {
		logging.WarnWithContext(logger, "sheet update failed", "publish_failed",
			logging.String("status", string(t.Status)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check sheet credentials and column headers"),
			logging.String(logging.FieldImpact, "row result not written back; artifact kept locally"),
		)
		if res.Reason == "" {
			res.Reason = "sheet update failed: " + err.Error()
		}
	}
	return res, nil
}

// failures counts FAILED tasks recorded for the row and workflow.
func (r *Runner) failures(row int, workflow task.WorkflowType) int {
	n := 0
	for _, t := range r.tasks.History(row, workflow) {
		if t.Status == task.StatusFailed {
			n++
		}
	}
	return n
}

func (r *Runner) notify(ctx context.Context, event string, send func(context.Context) error) {
	if err := send(ctx); err != nil {
		r.logger.Debug("notification failed",
			logging.String("event", event),
			logging.Error(err),
		)
	}
}

func skipped(row sheet.Row, workflow task.WorkflowType, decision Decision) RowResult {
	return RowResult{
		Row:      row.Index,
		Label:    row.Label(),
		Workflow: workflow,
		Outcome:  OutcomeSkipped,
		Reason:   decision.Reason,
	}
}

func withTaskContext(ctx context.Context, t task.Task) context.Context {
	ctx = services.WithTaskID(ctx, t.ID)
	ctx = services.WithRow(ctx, t.RowIndex)
	ctx = services.WithWorkflow(ctx, string(t.Workflow))
	return ctx
}

func label(product, model string) string {
	return sheet.Row{ProductName: product, ModelName: model}.Label()
}
