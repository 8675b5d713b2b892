package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/engine"
	"mediaflow/internal/lifecycle"
	"mediaflow/internal/sheet"
	"mediaflow/internal/task"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/workflow"
)

type harness struct {
	cfg    *config.Config
	mgr    *lifecycle.Manager
	engine *engine.Mock
	sheet  *testsupport.Sheet
	clock  *testsupport.Clock
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	return &harness{
		cfg:    cfg,
		mgr:    testsupport.MustOpenManager(t, cfg),
		engine: engine.NewMock(engine.WithVideoWorkflow("wf-video")),
		sheet:  testsupport.NewSheet(),
		clock:  testsupport.NewClock(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)),
	}
}

func (h *harness) runner(eng engine.Engine, opts ...workflow.RunnerOption) *workflow.Runner {
	if eng == nil {
		eng = h.engine
	}
	opts = append([]workflow.RunnerOption{
		workflow.WithClock(h.clock.Now),
		workflow.WithSleeper(h.clock.Sleep),
	}, opts...)
	return workflow.NewRunner(h.cfg, h.mgr, eng, h.sheet, opts...)
}

// addRow registers a row and its source media with the fake sheet.
func (h *harness) addRow(t *testing.T, row sheet.Row) {
	t.Helper()
	h.sheet.AddMedia(row.ProductImage.Ref(), testsupport.PNG(t, 16, 16))
	h.sheet.AddMedia(row.ModelImage.Ref(), testsupport.PNG(t, 16, 16))
	rows, err := h.sheet.FetchRows(context.Background())
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	h.sheet.SetRows(append(rows, row)...)
}

func (h *harness) pass(t *testing.T, runner *workflow.Runner, retry bool) workflow.Report {
	t.Helper()
	report, err := runner.RunPass(context.Background(), workflow.PassOptions{Retry: retry})
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	return report
}

func resultFor(t *testing.T, report workflow.Report, row int, wf task.WorkflowType) workflow.RowResult {
	t.Helper()
	for _, res := range report.Results {
		if res.Row == row && res.Workflow == wf {
			return res
		}
	}
	t.Fatalf("no result for row %d %s in %+v", row, wf, report.Results)
	return workflow.RowResult{}
}

func onlyTask(t *testing.T, mgr *lifecycle.Manager, row int, wf task.WorkflowType) task.Task {
	t.Helper()
	history := mgr.History(row, wf)
	if len(history) != 1 {
		t.Fatalf("expected one %s task for row %d, got %d", wf, row, len(history))
	}
	return history[0]
}

func TestImageRowCompletesAndIsPublished(t *testing.T) {
	h := newHarness(t)
	h.addRow(t, testsupport.ImageRow(5, "Red Dress", "Anna"))

	report := h.pass(t, h.runner(nil), false)

	res := resultFor(t, report, 5, task.WorkflowImageComposition)
	if res.Outcome != workflow.OutcomeCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Outcome, res.Reason)
	}
	completed := h.mgr.ListByStatus(task.StatusCompleted)
	if len(completed) != 1 || completed[0].RowIndex != 5 {
		t.Fatalf("expected row 5 completed, got %+v", completed)
	}
	tk := completed[0]
	if tk.ImagePath == "" || tk.ImagePath != res.Artifact {
		t.Fatalf("image path %q, artifact %q", tk.ImagePath, res.Artifact)
	}
	if _, err := os.Stat(tk.ImagePath); err != nil {
		t.Fatalf("composite not on disk: %v", err)
	}
	if writes := h.sheet.WritesFor(5, sheet.RoleComposite); len(writes) != 1 || writes[0] != tk.ImagePath {
		t.Fatalf("unexpected composite writes %v", writes)
	}
	if statuses := h.sheet.Statuses(5); len(statuses) != 1 || statuses[0] != "已处理" {
		t.Fatalf("unexpected statuses %v", statuses)
	}

	video := resultFor(t, report, 5, task.WorkflowImageToVideo)
	if video.Outcome != workflow.OutcomeSkipped || video.Reason != "missing prompt" {
		t.Fatalf("expected video skipped for missing prompt, got %+v", video)
	}

	subs := h.engine.Submissions()
	if len(subs) != 1 {
		t.Fatalf("expected one submission, got %d", len(subs))
	}
	if subs[0].WorkflowID != "wf-image" || len(subs[0].Attachments) != 2 || len(subs[0].Inputs) != 0 {
		t.Fatalf("unexpected image job %+v", subs[0])
	}
	if subs[0].Attachments[0].NodeID != "156" || subs[0].Attachments[1].NodeID != "145" {
		t.Fatalf("unexpected attachment nodes %+v", subs[0].Attachments)
	}
}

func TestActiveTaskMakesRowDuplicate(t *testing.T) {
	h := newHarness(t)
	h.addRow(t, testsupport.ImageRow(5, "Red Dress", "Anna"))
	existing := testsupport.StartTask(t, h.mgr, 5, task.WorkflowImageComposition, nil)

	report := h.pass(t, h.runner(nil), false)

	res := resultFor(t, report, 5, task.WorkflowImageComposition)
	if res.Outcome != workflow.OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %+v", res)
	}
	if !strings.Contains(res.Reason, existing) {
		t.Fatalf("expected reason to name %s, got %q", existing, res.Reason)
	}
	if len(h.engine.Submissions()) != 0 {
		t.Fatal("duplicate row must not submit a job")
	}
	if len(h.mgr.History(5, task.WorkflowImageComposition)) != 1 {
		t.Fatal("duplicate row must not create a task")
	}
}

func TestJobThatNeverFinishesTimesOut(t *testing.T) {
	h := newHarness(t)
	h.addRow(t, testsupport.ImageRow(5, "Red Dress", "Anna"))
	h.engine.Script(engine.Outcome{State: engine.StateRunning})

	report := h.pass(t, h.runner(nil), false)

	res := resultFor(t, report, 5, task.WorkflowImageComposition)
	if res.Outcome != workflow.OutcomeFailed {
		t.Fatalf("expected failed, got %+v", res)
	}
	tk := onlyTask(t, h.mgr, 5, task.WorkflowImageComposition)
	want := "timed out after 5s waiting for job " + tk.ExternalJobID
	if tk.Status != task.StatusFailed || tk.ErrorMessage != want {
		t.Fatalf("expected %q, got %s %q", want, tk.Status, tk.ErrorMessage)
	}
	if statuses := h.sheet.Statuses(5); len(statuses) != 1 || statuses[0] != "处理失败: "+want {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestEngineFailureIsPublishedWithPrefix(t *testing.T) {
	h := newHarness(t)
	h.addRow(t, testsupport.ImageRow(5, "Red Dress", "Anna"))
	h.engine.Script(engine.Outcome{State: engine.StateFailed, Message: "node 156: out of memory"})

	report := h.pass(t, h.runner(nil), false)

	if got := report.Count(workflow.OutcomeFailed); got != 1 {
		t.Fatalf("expected one failure, got %d", got)
	}
	tk := onlyTask(t, h.mgr, 5, task.WorkflowImageComposition)
	if tk.ErrorMessage != "node 156: out of memory" {
		t.Fatalf("engine message not kept: %q", tk.ErrorMessage)
	}
	if statuses := h.sheet.Statuses(5); len(statuses) != 1 || statuses[0] != "处理失败: node 156: out of memory" {
		t.Fatalf("unexpected statuses %v", statuses)
	}
	if len(h.sheet.WritesFor(5, sheet.RoleComposite)) != 0 {
		t.Fatal("failed task must not write a composite")
	}
}

func TestImageCompletionChainsIntoVideo(t *testing.T) {
	h := newHarness(t)
	row := testsupport.ImageRow(5, "Red Dress", "Anna")
	row.Prompt = "model walks toward camera"
	h.addRow(t, row)

	report := h.pass(t, h.runner(nil), false)

	if got := report.Count(workflow.OutcomeCompleted); got != 2 {
		t.Fatalf("expected image and video completed, got %+v", report.Results)
	}
	image := onlyTask(t, h.mgr, 5, task.WorkflowImageComposition)
	video := onlyTask(t, h.mgr, 5, task.WorkflowImageToVideo)
	if video.Status != task.StatusCompleted {
		t.Fatalf("video task %s: %s", video.Status, video.ErrorMessage)
	}
	if video.ImagePath != image.ImagePath {
		t.Fatalf("video phase 1 should reuse local composite %q, got %q", image.ImagePath, video.ImagePath)
	}
	if !strings.HasSuffix(video.VideoPath, ".mp4") || !strings.Contains(video.VideoPath, "Red Dress+Anna+20260301_093") {
		t.Fatalf("unexpected video path %q", video.VideoPath)
	}

	subs := h.engine.Submissions()
	if len(subs) != 2 {
		t.Fatalf("expected two submissions, got %d", len(subs))
	}
	if in := subs[0].Inputs; len(in) != 1 || in[0].NodeID != "30" || in[0].Value != row.Prompt {
		t.Fatalf("image job should carry the prompt, got %+v", in)
	}
	vj := subs[1]
	if vj.WorkflowID != "wf-video" {
		t.Fatalf("unexpected video workflow %q", vj.WorkflowID)
	}
	if len(vj.Inputs) != 1 || vj.Inputs[0].NodeID != "368" || vj.Inputs[0].Value != row.Prompt {
		t.Fatalf("unexpected video inputs %+v", vj.Inputs)
	}
	if len(vj.Attachments) != 1 || vj.Attachments[0].NodeID != "293" || len(vj.Attachments[0].Data) == 0 {
		t.Fatalf("unexpected video attachments %+v", vj.Attachments)
	}
	if writes := h.sheet.WritesFor(5, sheet.RoleVideoStatus); len(writes) != 1 || writes[0] != "是" {
		t.Fatalf("unexpected video status writes %v", writes)
	}
}

func TestVideoRowDownloadsRemoteComposite(t *testing.T) {
	h := newHarness(t)
	row := sheet.Row{
		Index:        7,
		ProductName:  "Coat",
		ModelName:    "Lena",
		ProductImage: sheet.Present("prod-7"),
		ModelImage:   sheet.Present("model-7"),
		Composite:    sheet.Present("composite-7"),
		Prompt:       "slow turn",
		Processed:    sheet.Present(""),
		Video:        sheet.Absent(),
	}
	h.sheet.SetRows(row)
	h.sheet.AddMedia("composite-7", testsupport.PNG(t, 12, 12))

	report := h.pass(t, h.runner(nil), false)

	image := resultFor(t, report, 7, task.WorkflowImageComposition)
	if image.Outcome != workflow.OutcomeSkipped || image.Reason != "already processed" {
		t.Fatalf("expected image skipped, got %+v", image)
	}
	video := onlyTask(t, h.mgr, 7, task.WorkflowImageToVideo)
	if video.Status != task.StatusCompleted {
		t.Fatalf("video task %s: %s", video.Status, video.ErrorMessage)
	}
	if !strings.HasPrefix(video.ImagePath, h.cfg.ImageOutputDir()) {
		t.Fatalf("composite should be saved under image dir, got %q", video.ImagePath)
	}
	if video.Meta(task.MetaCompositeRef) != "composite-7" {
		t.Fatalf("composite ref not recorded: %+v", video.Metadata)
	}
}

func TestVideoFailureIsWrittenToVideoColumn(t *testing.T) {
	h := newHarness(t)
	row := sheet.Row{
		Index:     3,
		Composite: sheet.Present("composite-3"),
		Prompt:    "spin",
		Processed: sheet.Present(""),
		Video:     sheet.Absent(),
	}
	h.sheet.SetRows(row)
	h.sheet.AddMedia("composite-3", testsupport.PNG(t, 8, 8))
	h.engine.Script(engine.Outcome{State: engine.StateFailed, Message: "video node crashed"})

	h.pass(t, h.runner(nil), false)

	if writes := h.sheet.WritesFor(3, sheet.RoleVideoStatus); len(writes) != 1 || writes[0] != "处理失败: video node crashed" {
		t.Fatalf("unexpected video status writes %v", writes)
	}
	if statuses := h.sheet.Statuses(3); len(statuses) != 0 {
		t.Fatalf("processed column must be untouched, got %v", statuses)
	}
}

func TestMissingSourceImageFailsRow(t *testing.T) {
	h := newHarness(t)
	h.sheet.SetRows(testsupport.ImageRow(5, "Red Dress", "Anna"))

	report := h.pass(t, h.runner(nil), false)

	res := resultFor(t, report, 5, task.WorkflowImageComposition)
	if res.Outcome != workflow.OutcomeFailed || !strings.HasPrefix(res.Reason, "download product image:") {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.engine.Submissions()) != 0 {
		t.Fatal("no job should be submitted without sources")
	}
}

func TestIneligibleRowsAreReportedAsSkipped(t *testing.T) {
	h := newHarness(t)
	row := testsupport.ImageRow(4, "Scarf", "Mia")
	row.ModelImage = sheet.Absent()
	h.sheet.SetRows(row)

	report := h.pass(t, h.runner(nil), false)

	if got := report.Count(workflow.OutcomeSkipped); got != 2 {
		t.Fatalf("expected both workflows skipped, got %+v", report.Results)
	}
	if res := resultFor(t, report, 4, task.WorkflowImageComposition); res.Reason != "missing model image" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
	if len(h.mgr.History(4, task.WorkflowImageComposition)) != 0 {
		t.Fatal("skipped row must not create tasks")
	}
}

func TestRetryHonorsFailureBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testsupport.WithMaxRetries(1))
	row := testsupport.ImageRow(5, "Red Dress", "Anna")
	row.Processed = sheet.Errored("engine timeout")
	h.addRow(t, row)

	runner := h.runner(nil)
	report := h.pass(t, runner, false)
	if res := resultFor(t, report, 5, task.WorkflowImageComposition); res.Reason != "previous attempt failed: engine timeout" {
		t.Fatalf("expected failure marker to skip without retry, got %+v", res)
	}

	report = h.pass(t, runner, true)
	if res := resultFor(t, report, 5, task.WorkflowImageComposition); res.Outcome != workflow.OutcomeCompleted {
		t.Fatalf("expected retry to run the row, got %+v", res)
	}

	failed := testsupport.StartTask(t, h.mgr, 6, task.WorkflowImageComposition, nil)
	if err := h.mgr.Fail(ctx, failed, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	exhausted := testsupport.ImageRow(6, "Hat", "Zoe")
	exhausted.Processed = sheet.Errored("boom")
	h.sheet.SetRows(exhausted)

	report = h.pass(t, runner, true)
	if res := resultFor(t, report, 6, task.WorkflowImageComposition); res.Reason != "retry limit reached (1/1)" {
		t.Fatalf("expected retry limit, got %+v", res)
	}
}

// queueFullEngine rejects the first n submissions with a full queue.
type queueFullEngine struct {
	*engine.Mock
	mu       sync.Mutex
	rejects  int
	attempts int
}

func (e *queueFullEngine) Submit(ctx context.Context, job engine.Job) (string, error) {
	e.mu.Lock()
	e.attempts++
	reject := e.attempts <= e.rejects
	e.mu.Unlock()
	if reject {
		return "", engine.Unavailable("create", fmt.Errorf("%w: too many tasks", engine.ErrQueueFull))
	}
	return e.Mock.Submit(ctx, job)
}

func TestQueueFullSubmissionIsRetried(t *testing.T) {
	h := newHarness(t)
	h.addRow(t, testsupport.ImageRow(5, "Red Dress", "Anna"))
	eng := &queueFullEngine{Mock: h.engine, rejects: 2}

	report := h.pass(t, h.runner(eng), false)

	if res := resultFor(t, report, 5, task.WorkflowImageComposition); res.Outcome != workflow.OutcomeCompleted {
		t.Fatalf("expected completion after queue drained, got %+v", res)
	}
	if eng.attempts != 3 {
		t.Fatalf("expected 3 submit attempts, got %d", eng.attempts)
	}
}

func TestQueueFullGivesUpAfterMaxRetries(t *testing.T) {
	h := newHarness(t)
	h.addRow(t, testsupport.ImageRow(5, "Red Dress", "Anna"))
	eng := &queueFullEngine{Mock: h.engine, rejects: 100}

	report := h.pass(t, h.runner(eng), false)

	res := resultFor(t, report, 5, task.WorkflowImageComposition)
	if res.Outcome != workflow.OutcomeFailed || !strings.Contains(res.Reason, "engine queue full") {
		t.Fatalf("unexpected result %+v", res)
	}
	if eng.attempts != h.cfg.Engine.MaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", h.cfg.Engine.MaxRetries+1, eng.attempts)
	}
}

func TestCancellationLeavesTaskForRecovery(t *testing.T) {
	h := newHarness(t)
	h.addRow(t, testsupport.ImageRow(5, "Red Dress", "Anna"))
	h.engine.Script(engine.Outcome{State: engine.StateRunning})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := h.runner(nil, workflow.WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	report, err := runner.RunPass(ctx, workflow.PassOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res := resultFor(t, report, 5, task.WorkflowImageComposition); res.Outcome != workflow.OutcomeInterrupted {
		t.Fatalf("expected interrupted, got %+v", res)
	}
	tk := onlyTask(t, h.mgr, 5, task.WorkflowImageComposition)
	if tk.Status != task.StatusPhase1Running || tk.ExternalJobID == "" {
		t.Fatalf("task should stay running with its job, got %s job=%q", tk.Status, tk.ExternalJobID)
	}
	if len(h.sheet.Statuses(5)) != 0 {
		t.Fatal("interrupted task must not be published")
	}
}

func TestPublishFailureKeepsCompletedTask(t *testing.T) {
	h := newHarness(t)
	h.addRow(t, testsupport.ImageRow(5, "Red Dress", "Anna"))
	h.sheet.FailWrites(errors.New("sheet quota exceeded"))

	report := h.pass(t, h.runner(nil), false)

	res := resultFor(t, report, 5, task.WorkflowImageComposition)
	if res.Outcome != workflow.OutcomeCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}
	if !strings.Contains(res.Reason, "sheet quota exceeded") {
		t.Fatalf("expected publish failure in reason, got %q", res.Reason)
	}
}

func TestFetchRowsFailureEndsPass(t *testing.T) {
	h := newHarness(t)
	h.sheet.FailFetch(errors.New("token expired"))

	_, err := h.runner(nil).RunPass(context.Background(), workflow.PassOptions{})
	if err == nil || !strings.Contains(err.Error(), "token expired") {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestResumeFinishesRecoveredJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := testsupport.StartTask(t, h.mgr, 9, task.WorkflowImageComposition, nil)
	if err := h.mgr.RecordJob(ctx, id, "job-9"); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}
	h.engine.Seed("job-9", engine.Outcome{Polls: 0})

	report, err := h.runner(nil).Resume(ctx, []string{id, "missing-task"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if report.Count(workflow.OutcomeCompleted) != 1 || report.Count(workflow.OutcomeSkipped) != 1 {
		t.Fatalf("unexpected results %+v", report.Results)
	}
	tk := h.mgr.ListByStatus(task.StatusCompleted)
	if len(tk) != 1 || tk[0].ID != id {
		t.Fatalf("expected %s completed, got %+v", id, tk)
	}
	if !strings.Contains(tk[0].ImagePath, "Product_Model_") {
		t.Fatalf("unexpected artifact name %q", tk[0].ImagePath)
	}
	if statuses := h.sheet.Statuses(9); len(statuses) != 1 || statuses[0] != "已处理" {
		t.Fatalf("unexpected statuses %v", statuses)
	}
	if len(h.engine.Submissions()) != 0 {
		t.Fatal("resume must not resubmit")
	}
}

func TestContinuePhase2RequiresEnabledVideo(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testsupport.WithWorkflows(true, false))
	id := testsupport.StartTask(t, h.mgr, 2, task.WorkflowImageToVideo, map[string]string{task.MetaPrompt: "wave"})
	path := filepath.Join(testsupport.BaseDir(h.cfg), "composite.png")
	testsupport.WritePNG(t, path)
	if err := h.mgr.CompletePhase1(ctx, id, path); err != nil {
		t.Fatalf("CompletePhase1: %v", err)
	}
	tk, _ := h.mgr.Get(id)

	ok, err := h.runner(nil).ContinuePhase2(ctx, tk)
	if err != nil || ok {
		t.Fatalf("expected phase 2 refused while video disabled, got %v %v", ok, err)
	}

	enabled := h.runner(nil, workflow.WithOptions(workflow.Options{ImageEnabled: true, VideoEnabled: true}))
	ok, err = enabled.ContinuePhase2(ctx, tk)
	if err != nil || !ok {
		t.Fatalf("expected phase 2 started, got %v %v", ok, err)
	}
	tk, _ = h.mgr.Get(id)
	if tk.Status != task.StatusPhase2Running || tk.ExternalJobID == "" {
		t.Fatalf("expected phase 2 running with job, got %s %q", tk.Status, tk.ExternalJobID)
	}
}
