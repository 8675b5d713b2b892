package recovery_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"mediaflow/internal/engine"
	"mediaflow/internal/lifecycle"
	"mediaflow/internal/recovery"
	"mediaflow/internal/task"
	"mediaflow/internal/testsupport"
)

type fakeFinisher struct {
	mgr     *lifecycle.Manager
	dir     string
	accept  bool
	nextJob string

	mu        sync.Mutex
	stored    []string
	continued []string
	published []task.Task
}

func (f *fakeFinisher) StoreArtifact(_ context.Context, tk task.Task, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := filepath.Join(f.dir, tk.ID+".bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	f.stored = append(f.stored, tk.ID)
	return path, nil
}

func (f *fakeFinisher) ContinuePhase2(ctx context.Context, tk task.Task) (bool, error) {
	f.mu.Lock()
	f.continued = append(f.continued, tk.ID)
	f.mu.Unlock()
	if !f.accept {
		return false, nil
	}
	if err := f.mgr.StartPhase2(ctx, tk.ID); err != nil {
		return false, err
	}
	if err := f.mgr.RecordJob(ctx, tk.ID, f.nextJob); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeFinisher) Publish(_ context.Context, tk task.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, tk)
	return nil
}

type harness struct {
	mgr      *lifecycle.Manager
	engine   *engine.Mock
	finisher *fakeFinisher
	coord    *recovery.Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	mgr := testsupport.MustOpenManager(t, cfg)
	mock := engine.NewMock()
	finisher := &fakeFinisher{mgr: mgr, dir: t.TempDir(), accept: true, nextJob: "job-phase2"}
	return &harness{
		mgr:      mgr,
		engine:   mock,
		finisher: finisher,
		coord:    &recovery.Coordinator{Tasks: mgr, Engine: mock, Finisher: finisher},
	}
}

func (h *harness) running(t *testing.T, row int, workflow task.WorkflowType, jobID string) string {
	t.Helper()
	id := testsupport.StartTask(t, h.mgr, row, workflow, nil)
	if jobID != "" {
		if err := h.mgr.RecordJob(context.Background(), id, jobID); err != nil {
			t.Fatalf("RecordJob: %v", err)
		}
	}
	return id
}

func (h *harness) phase2(t *testing.T, row int, jobID string) string {
	t.Helper()
	ctx := context.Background()
	id := h.running(t, row, task.WorkflowImageToVideo, "")
	if err := h.mgr.CompletePhase1(ctx, id, "/tmp/composite.png"); err != nil {
		t.Fatalf("CompletePhase1: %v", err)
	}
	if err := h.mgr.StartPhase2(ctx, id); err != nil {
		t.Fatalf("StartPhase2: %v", err)
	}
	if err := h.mgr.RecordJob(ctx, id, jobID); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}
	return id
}

func mustGet(t *testing.T, mgr *lifecycle.Manager, id string) task.Task {
	t.Helper()
	tk, ok := mgr.Get(id)
	if !ok {
		t.Fatalf("task %s missing", id)
	}
	return tk
}

func TestSucceededJobIsCompletedWithoutResubmission(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, 5, task.WorkflowImageComposition, "job-1")
	h.engine.Seed("job-1", engine.Outcome{State: engine.StateSucceeded})

	summary, err := h.coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Inspected != 1 || summary.Completed != 1 || summary.Failed != 0 || summary.Resumed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	got := mustGet(t, h.mgr, id)
	if got.Status != task.StatusCompleted || got.ImagePath == "" {
		t.Fatalf("task = %+v", got)
	}
	if len(h.engine.Submissions()) != 0 {
		t.Fatalf("recovery resubmitted %d jobs", len(h.engine.Submissions()))
	}
	if len(h.finisher.published) != 1 || h.finisher.published[0].Status != task.StatusCompleted {
		t.Fatalf("published = %+v", h.finisher.published)
	}
}

func TestPhase1SuccessContinuesIntoPhase2Once(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, 6, task.WorkflowImageToVideo, "job-x")
	h.engine.Seed("job-x", engine.Outcome{State: engine.StateSucceeded})

	summary, err := h.coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Resumed != 1 || len(summary.Resume) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Resume[0] != (recovery.Resume{TaskID: id, Phase: 2}) {
		t.Fatalf("resume = %+v", summary.Resume[0])
	}
	got := mustGet(t, h.mgr, id)
	if got.Status != task.StatusPhase2Running || got.ExternalJobID != "job-phase2" || got.ImagePath == "" {
		t.Fatalf("task = %+v", got)
	}
	if len(h.finisher.continued) != 1 || len(h.finisher.stored) != 1 {
		t.Fatalf("continued=%v stored=%v", h.finisher.continued, h.finisher.stored)
	}
	if len(h.engine.Submissions()) != 0 {
		t.Fatal("recovery resubmitted the phase 1 job")
	}
}

func TestUnknownJobIsFailedAsLost(t *testing.T) {
	h := newHarness(t)
	id := h.phase2(t, 9, "gone")

	summary, err := h.coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Resumed != 0 || len(summary.Resume) != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	got := mustGet(t, h.mgr, id)
	if got.Status != task.StatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ErrorMessage != "job lost: engine has no record of job gone" {
		t.Fatalf("message = %q", got.ErrorMessage)
	}
	if len(h.finisher.published) != 1 || h.finisher.published[0].Status != task.StatusFailed {
		t.Fatalf("published = %+v", h.finisher.published)
	}
}

func TestTaskWithoutJobIsFailed(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, 3, task.WorkflowImageComposition, "")

	if _, err := h.coord.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := mustGet(t, h.mgr, id)
	if got.Status != task.StatusFailed || got.ErrorMessage != "job lost: interrupted before submission" {
		t.Fatalf("task = %+v", got)
	}
	if h.engine.PollCount() != 0 {
		t.Fatal("engine polled for a task with no job")
	}
}

func TestRunningJobIsLeftForResume(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, 4, task.WorkflowImageComposition, "job-run")
	h.engine.Seed("job-run", engine.Outcome{State: engine.StateRunning})

	summary, err := h.coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Resume) != 1 || summary.Resume[0].TaskID != id || summary.Resume[0].Phase != 1 {
		t.Fatalf("resume = %+v", summary.Resume)
	}
	if got := mustGet(t, h.mgr, id); got.Status != task.StatusPhase1Running {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestEngineFailureMessageIsKept(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, 8, task.WorkflowImageComposition, "job-bad")
	h.engine.Seed("job-bad", engine.Outcome{State: engine.StateFailed, Message: "out of memory"})

	if _, err := h.coord.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mustGet(t, h.mgr, id); got.ErrorMessage != "out of memory" {
		t.Fatalf("message = %q", got.ErrorMessage)
	}
}

func TestPhase1DoneRejectedIsFailed(t *testing.T) {
	h := newHarness(t)
	h.finisher.accept = false
	id := h.running(t, 10, task.WorkflowImageToVideo, "")
	if err := h.mgr.CompletePhase1(context.Background(), id, "/tmp/c.png"); err != nil {
		t.Fatalf("CompletePhase1: %v", err)
	}

	if _, err := h.coord.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mustGet(t, h.mgr, id); got.Status != task.StatusFailed || got.ErrorMessage != "interrupted before phase 2" {
		t.Fatalf("task = %+v", got)
	}
}

func TestPerTaskErrorsDoNotStopRecovery(t *testing.T) {
	h := newHarness(t)
	broken := h.running(t, 1, task.WorkflowImageComposition, "job-err")
	healthy := h.running(t, 2, task.WorkflowImageComposition, "job-ok")
	h.engine.Seed("job-err", engine.Outcome{PollErr: engine.Unavailable("status", errors.New("connection refused"))})
	h.engine.Seed("job-ok", engine.Outcome{State: engine.StateSucceeded})

	summary, err := h.coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Completed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	got := mustGet(t, h.mgr, broken)
	if got.Status != task.StatusFailed || !strings.Contains(got.ErrorMessage, "connection refused") {
		t.Fatalf("broken task = %+v", got)
	}
	if got := mustGet(t, h.mgr, healthy); got.Status != task.StatusCompleted {
		t.Fatalf("healthy task status = %s", got.Status)
	}
}

func TestFetchFailureFailsTask(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, 11, task.WorkflowImageComposition, "job-f")
	h.engine.Seed("job-f", engine.Outcome{State: engine.StateSucceeded, Artifacts: []string{"https://cdn/missing.png"}})

	if _, err := h.coord.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := mustGet(t, h.mgr, id)
	if got.Status != task.StatusFailed || !strings.Contains(got.ErrorMessage, "fetch artifact") {
		t.Fatalf("task = %+v", got)
	}
}

func TestSucceededJobStoresLastArtifact(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, 12, task.WorkflowImageComposition, "job-multi")
	h.engine.PutArtifact("https://cdn/preview.png", []byte("preview"))
	h.engine.PutArtifact("https://cdn/final.png", []byte("final"))
	h.engine.Seed("job-multi", engine.Outcome{
		State:     engine.StateSucceeded,
		Artifacts: []string{"https://cdn/preview.png", "https://cdn/final.png"},
	})

	if _, err := h.coord.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := mustGet(t, h.mgr, id)
	if got.Status != task.StatusCompleted {
		t.Fatalf("task = %+v", got)
	}
	data, err := os.ReadFile(got.ImagePath)
	if err != nil {
		t.Fatalf("read stored artifact: %v", err)
	}
	if string(data) != "final" {
		t.Fatalf("stored %q, want the last artifact", data)
	}
}

type brokenStore struct {
	*lifecycle.Manager
}

func (brokenStore) Fail(context.Context, string, string) error {
	return &task.StorageError{Op: "put", Err: errors.New("disk full")}
}

func TestStorageFailureAbortsRecovery(t *testing.T) {
	h := newHarness(t)
	h.running(t, 1, task.WorkflowImageComposition, "")
	h.running(t, 2, task.WorkflowImageComposition, "")
	h.coord.Tasks = brokenStore{h.mgr}

	summary, err := h.coord.Run(context.Background())
	if !errors.Is(err, task.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if summary.Inspected != 1 {
		t.Fatalf("recovery continued after storage failure: %+v", summary)
	}
}

func TestNothingToRecover(t *testing.T) {
	h := newHarness(t)
	summary, err := h.coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Inspected != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}
