package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediaflow/internal/engine"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
	"mediaflow/internal/sheet"
	"mediaflow/internal/task"
)

const (
	fieldImage = "image"
	fieldText  = "text"

	maxFailureText = 200
)

// submitImage downloads the source images and submits the composition job.
func (r *Runner) submitImage(ctx context.Context, id string, row sheet.Row) error {
	product, err := r.download(ctx, "product image", row.ProductImage)
	if err != nil {
		return err
	}
	model, err := r.download(ctx, "model image", row.ModelImage)
	if err != nil {
		return err
	}

	nodes := r.cfg.Engine.Nodes
	job := engine.Job{
		WorkflowID: r.cfg.Engine.ImageWorkflowID,
		Attachments: []engine.Attachment{
			{NodeID: nodes.ProductImage, Field: fieldImage, Name: fmt.Sprintf("product_%d.png", row.Index), Data: product},
			{NodeID: nodes.ModelImage, Field: fieldImage, Name: fmt.Sprintf("model_%d.png", row.Index), Data: model},
		},
	}
	if nodes.Prompt != "" && row.Prompt != "" {
		job.Inputs = append(job.Inputs, engine.Input{NodeID: nodes.Prompt, Field: fieldText, Value: row.Prompt})
	}
	return r.submit(ctx, id, job)
}

func (r *Runner) download(ctx context.Context, what string, marker sheet.Marker) ([]byte, error) {
	data, err := r.sheet.Download(ctx, marker.Ref())
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", what, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download %s: empty file", what)
	}
	return data, nil
}

// submit sends the job and records its ID. A full engine queue is retried
// up to engine.max_retries times.
func (r *Runner) submit(ctx context.Context, id string, job engine.Job) error {
	delay := time.Duration(r.cfg.Engine.RetryDelay) * time.Second
	for attempt := 0; ; attempt++ {
		jobID, err := r.engine.Submit(ctx, job)
		if err == nil {
			logging.WithContext(ctx, r.logger).Info("job submitted",
				logging.String(logging.FieldJobID, jobID),
				logging.String("engine_workflow", job.WorkflowID),
				logging.String(logging.FieldEventType, "job_submitted"),
			)
			return r.tasks.RecordJob(ctx, id, jobID)
		}
		if !errors.Is(err, engine.ErrQueueFull) || attempt >= r.cfg.Engine.MaxRetries {
			return fmt.Errorf("submit job: %w", err)
		}
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "engine queue full; waiting", "queue_full",
			logging.Int("attempt", attempt+1),
			logging.Duration("retry_in", delay),
			logging.String(logging.FieldErrorHint, "reduce workflow.max_concurrent if this repeats"),
			logging.String(logging.FieldImpact, "row delayed"),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// await polls the task's job, stores the artifact, and completes the phase.
// A two-phase task that finishes phase 1 continues into phase 2.
func (r *Runner) await(ctx context.Context, id string) error {
	for {
		t, ok := r.tasks.Get(id)
		if !ok {
			return fmt.Errorf("task %s: %w", id, task.ErrNotFound)
		}
		switch t.Status {
		case task.StatusCompleted:
			return nil
		case task.StatusPhase1Done:
			if err := r.startPhase2(ctx, id); err != nil {
				return err
			}
			continue
		case task.StatusPhase1Running, task.StatusPhase2Running:
		default:
			return fmt.Errorf("task %s is %s", id, t.Status)
		}
		if t.ExternalJobID == "" {
			return errors.New("job lost: interrupted before submission")
		}

		status, err := r.poller.Wait(ctx, t.ExternalJobID)
		if err != nil {
			return err
		}
		data, err := r.engine.Fetch(ctx, engine.PrimaryArtifact(status.Artifacts))
		if err != nil {
			return fmt.Errorf("fetch artifact: %w", err)
		}
		path, err := r.StoreArtifact(ctx, t, data)
		if err != nil {
			return err
		}
		if t.Status == task.StatusPhase2Running {
			err = r.tasks.CompletePhase2(ctx, id, path)
		} else {
			err = r.tasks.CompletePhase1(ctx, id, path)
		}
		if err != nil {
			return err
		}
	}
}

// materializeComposite returns a local copy of the row's composite image.
func (r *Runner) materializeComposite(ctx context.Context, row sheet.Row) (string, error) {
	ref := row.Composite.Ref()
	if filepath.IsAbs(ref) {
		if info, err := os.Stat(ref); err == nil && info.Mode().IsRegular() {
			return ref, nil
		}
	}
	data, err := r.download(ctx, "composite image", row.Composite)
	if err != nil {
		return "", err
	}
	return r.artifacts.SaveImage(row.ProductName, row.ModelName, data)
}

// startPhase2 moves a PHASE1_DONE video task into phase 2 and submits the
// video job.
func (r *Runner) startPhase2(ctx context.Context, id string) error {
	t, ok := r.tasks.Get(id)
	if !ok {
		return fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}
	prompt := strings.TrimSpace(t.Meta(task.MetaPrompt))
	if prompt == "" {
		return errors.New("cannot start phase 2: prompt is empty")
	}
	image, err := os.ReadFile(t.ImagePath)
	if err != nil {
		return fmt.Errorf("read composite: %w", err)
	}
	if err := r.tasks.StartPhase2(ctx, id); err != nil {
		return err
	}
	ctx = services.WithPhase(ctx, "2")

	nodes := r.cfg.Engine.Nodes
	return r.submit(ctx, id, engine.Job{
		WorkflowID:  r.cfg.Engine.VideoWorkflowID,
		Inputs:      []engine.Input{{NodeID: nodes.VideoPrompt, Field: fieldText, Value: prompt}},
		Attachments: []engine.Attachment{{NodeID: nodes.VideoImage, Field: fieldImage, Name: filepath.Base(t.ImagePath), Data: image}},
	})
}

// StoreArtifact saves fetched bytes for the task's running phase.
func (r *Runner) StoreArtifact(_ context.Context, t task.Task, data []byte) (string, error) {
	if t.Status == task.StatusPhase2Running {
		return r.artifacts.SaveVideo(t.ProductName, t.ModelName, data)
	}
	return r.artifacts.SaveImage(fallbackName(t.ProductName, t.RowIndex), t.ModelName, data)
}

// ContinuePhase2 starts phase 2 for a PHASE1_DONE task when the video
// workflow is enabled, the prompt is known, and the composite is on disk.
func (r *Runner) ContinuePhase2(ctx context.Context, t task.Task) (bool, error) {
	if t.Status != task.StatusPhase1Done || t.Workflow.Phases() < 2 || !r.opts.VideoEnabled {
		return false, nil
	}
	if strings.TrimSpace(t.Meta(task.MetaPrompt)) == "" || t.ImagePath == "" {
		return false, nil
	}
	if _, err := os.Stat(t.ImagePath); err != nil {
		return false, nil
	}
	if err := r.startPhase2(withTaskContext(ctx, t), t.ID); err != nil {
		return true, err
	}
	return true, nil
}

// Publish writes a terminal task's result to its row.
func (r *Runner) Publish(ctx context.Context, t task.Task) error {
	markers := r.cfg.Sheet.Markers
	switch t.Status {
	case task.StatusCompleted:
		if t.Workflow == task.WorkflowImageToVideo {
			return r.sheet.WriteResult(ctx, t.RowIndex, sheet.RoleVideoStatus, markers.VideoDoneText)
		}
		if err := r.sheet.WriteResult(ctx, t.RowIndex, sheet.RoleComposite, t.ImagePath); err != nil {
			return fmt.Errorf("write composite: %w", err)
		}
		return r.sheet.UpdateStatus(ctx, t.RowIndex, markers.ProcessedText)
	case task.StatusFailed:
		text := failureText(markers.FailurePrefix, t.ErrorMessage)
		if t.Workflow == task.WorkflowImageToVideo {
			return r.sheet.WriteResult(ctx, t.RowIndex, sheet.RoleVideoStatus, text)
		}
		return r.sheet.UpdateStatus(ctx, t.RowIndex, text)
	default:
		return nil
	}
}

func failureText(prefix, message string) string {
	runes := []rune(strings.TrimSpace(message))
	if len(runes) > maxFailureText {
		runes = append(runes[:maxFailureText], '…')
	}
	return prefix + ": " + string(runes)
}

func fallbackName(product string, row int) string {
	if strings.TrimSpace(product) != "" {
		return product
	}
	return "row_" + strconv.Itoa(row)
}
