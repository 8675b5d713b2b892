package workflow

import (
	"fmt"

	"mediaflow/internal/config"
	"mediaflow/internal/sheet"
	"mediaflow/internal/task"
)

// Options controls which rows the drivers accept.
type Options struct {
	ImageEnabled bool
	VideoEnabled bool
	// Retry requeues rows whose status marker records a failure.
	Retry bool
	// MaxRetries bounds how many FAILED tasks a row may accumulate before
	// Retry stops requeueing it.
	MaxRetries int
}

// OptionsFromConfig reads the workflow toggles from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ImageEnabled: cfg.Workflow.ImageEnabled,
		VideoEnabled: cfg.Workflow.VideoEnabled,
		MaxRetries:   cfg.Workflow.MaxRetries,
	}
}

// Decision is the result of an eligibility check.
type Decision struct {
	Eligible bool
	Reason   string
}

func accept() Decision { return Decision{Eligible: true} }

func skip(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// ImageDriver decides and runs image composition for a row.
type ImageDriver struct {
	opts Options
}

// NewImageDriver returns a driver using opts.
func NewImageDriver(opts Options) ImageDriver {
	return ImageDriver{opts: opts}
}

// Workflow identifies the task type the driver creates.
func (ImageDriver) Workflow() task.WorkflowType { return task.WorkflowImageComposition }

// Evaluate checks the row. failures is the number of FAILED image tasks
// recorded for the row.
func (d ImageDriver) Evaluate(row sheet.Row, failures int) Decision {
	if !d.opts.ImageEnabled {
		return skip("image workflow disabled")
	}
	if decision, done := evaluateMarker(row.Processed, "already processed", d.opts, failures); done {
		return decision
	}
	if !row.ProductImage.IsPresent() {
		return skip("missing product image")
	}
	if !row.ModelImage.IsPresent() {
		return skip("missing model image")
	}
	return accept()
}

// VideoDriver decides and runs image-to-video generation for a row.
type VideoDriver struct {
	opts Options
}

// NewVideoDriver returns a driver using opts.
func NewVideoDriver(opts Options) VideoDriver {
	return VideoDriver{opts: opts}
}

// Workflow identifies the task type the driver creates.
func (VideoDriver) Workflow() task.WorkflowType { return task.WorkflowImageToVideo }

// Evaluate checks the row. failures is the number of FAILED video tasks
// recorded for the row.
func (d VideoDriver) Evaluate(row sheet.Row, failures int) Decision {
	if !d.opts.VideoEnabled {
		return skip("video workflow disabled")
	}
	if decision, done := evaluateMarker(row.Video, "video already generated", d.opts, failures); done {
		return decision
	}
	if !row.Composite.IsPresent() {
		return skip("missing composite image")
	}
	if row.Prompt == "" {
		return skip("missing prompt")
	}
	return accept()
}

// evaluateMarker applies the status marker rules shared by both drivers. The
// second result is true when the marker alone decides the row.
func evaluateMarker(marker sheet.Marker, doneReason string, opts Options, failures int) (Decision, bool) {
	switch {
	case marker.IsPresent():
		return skip("%s", doneReason), true
	case marker.IsErrored() && !opts.Retry:
		return skip("previous attempt failed: %s", marker.Reason()), true
	case marker.IsErrored() && failures >= opts.MaxRetries:
		return skip("retry limit reached (%d/%d)", failures, opts.MaxRetries), true
	}
	return Decision{}, false
}
