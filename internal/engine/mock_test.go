package engine_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"mediaflow/internal/engine"
)

func TestMockJobSucceedsAfterConfiguredPolls(t *testing.T) {
	ctx := context.Background()
	mock := engine.NewMock(engine.WithPollsToFinish(2))

	id, err := mock.Submit(ctx, engine.Job{WorkflowID: "wf"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !strings.HasPrefix(id, "mock-") {
		t.Fatalf("unexpected job id %q", id)
	}
	for i := 0; i < 2; i++ {
		st, err := mock.Poll(ctx, id)
		if err != nil || st.State != engine.StateRunning {
			t.Fatalf("poll %d: got %+v, %v", i, st, err)
		}
	}
	st, err := mock.Poll(ctx, id)
	if err != nil || st.State != engine.StateSucceeded || len(st.Artifacts) != 1 {
		t.Fatalf("expected success with one artifact, got %+v, %v", st, err)
	}

	data, err := mock.Fetch(ctx, st.Artifacts[0])
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("mock artifact should decode: %v", err)
	}
	if img.Bounds().Dx() != 64 {
		t.Fatalf("unexpected mock image width %d", img.Bounds().Dx())
	}
}

func TestMockVideoWorkflowProducesVideoRef(t *testing.T) {
	ctx := context.Background()
	mock := engine.NewMock(engine.WithPollsToFinish(0), engine.WithVideoWorkflow("wf-video"))
	id, _ := mock.Submit(ctx, engine.Job{WorkflowID: "wf-video"})
	st, _ := mock.Poll(ctx, id)
	if len(st.Artifacts) != 1 || !strings.HasSuffix(st.Artifacts[0], ".mp4") {
		t.Fatalf("expected mp4 artifact, got %+v", st)
	}
	data, err := mock.Fetch(ctx, st.Artifacts[0])
	if err != nil || !bytes.Contains(data, []byte("ftyp")) {
		t.Fatalf("unexpected video bytes %v %v", data, err)
	}
}

func TestMockScriptedOutcomes(t *testing.T) {
	ctx := context.Background()
	mock := engine.NewMock()
	mock.Script(
		engine.Outcome{State: engine.StateFailed, Message: "node 145: out of memory", Polls: 0},
		engine.Outcome{State: engine.StateRunning},
	)

	failed, _ := mock.Submit(ctx, engine.Job{})
	st, _ := mock.Poll(ctx, failed)
	if st.State != engine.StateFailed || st.Message != "node 145: out of memory" {
		t.Fatalf("unexpected failed status %+v", st)
	}

	running, _ := mock.Submit(ctx, engine.Job{})
	for i := 0; i < 5; i++ {
		if st, _ := mock.Poll(ctx, running); st.State != engine.StateRunning {
			t.Fatalf("expected job to stay running, got %+v", st)
		}
	}
	if got := len(mock.Submissions()); got != 2 {
		t.Fatalf("expected 2 submissions, got %d", got)
	}
}

func TestMockUnknownJobAndErrors(t *testing.T) {
	ctx := context.Background()
	mock := engine.NewMock()

	st, err := mock.Poll(ctx, "never-submitted")
	if err != nil || st.State != engine.StateUnknown {
		t.Fatalf("expected UNKNOWN, got %+v, %v", st, err)
	}

	mock.FailSubmissions(engine.Unavailable("submit", engine.ErrQueueFull))
	_, err = mock.Submit(ctx, engine.Job{})
	if !errors.Is(err, engine.ErrUnavailable) || !errors.Is(err, engine.ErrQueueFull) {
		t.Fatalf("expected unavailable queue-full error, got %v", err)
	}

	if _, err := mock.Fetch(ctx, "https://elsewhere/x.png"); !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("expected unavailable for foreign ref, got %v", err)
	}
	mock.PutArtifact("https://elsewhere/x.png", []byte("abc"))
	if data, err := mock.Fetch(ctx, "https://elsewhere/x.png"); err != nil || string(data) != "abc" {
		t.Fatalf("unexpected fetch %q %v", data, err)
	}
}

func TestJobErrorKeepsMessageVerbatim(t *testing.T) {
	err := error(&engine.JobError{JobID: "j1", Message: "Prompt rejected: contains \"x\""})
	if err.Error() != "Prompt rejected: contains \"x\"" {
		t.Fatalf("message altered: %q", err.Error())
	}
	if !errors.Is(err, engine.ErrJobFailed) {
		t.Fatal("expected ErrJobFailed match")
	}
}

func TestPrimaryArtifactIsLast(t *testing.T) {
	if got := engine.PrimaryArtifact(nil); got != "" {
		t.Fatalf("PrimaryArtifact(nil) = %q", got)
	}
	if got := engine.PrimaryArtifact([]string{"a.png"}); got != "a.png" {
		t.Fatalf("single = %q", got)
	}
	if got := engine.PrimaryArtifact([]string{"preview.png", "final.png"}); got != "final.png" {
		t.Fatalf("several = %q, want final.png", got)
	}
}
