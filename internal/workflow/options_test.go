package workflow_test

import (
	"testing"

	"mediaflow/internal/sheet"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/workflow"
)

func TestImageDriverEvaluate(t *testing.T) {
	base := workflow.Options{ImageEnabled: true, VideoEnabled: true, MaxRetries: 2}
	retry := base
	retry.Retry = true

	tests := []struct {
		name     string
		opts     workflow.Options
		mutate   func(*sheet.Row)
		failures int
		eligible bool
		reason   string
	}{
		{name: "fresh row", opts: base, eligible: true},
		{name: "disabled", opts: workflow.Options{}, reason: "image workflow disabled"},
		{name: "processed", opts: base, mutate: func(r *sheet.Row) { r.Processed = sheet.Present("") }, reason: "already processed"},
		{name: "no product", opts: base, mutate: func(r *sheet.Row) { r.ProductImage = sheet.Absent() }, reason: "missing product image"},
		{name: "no model", opts: base, mutate: func(r *sheet.Row) { r.ModelImage = sheet.Absent() }, reason: "missing model image"},
		{name: "failed without retry", opts: base, mutate: func(r *sheet.Row) { r.Processed = sheet.Errored("bad input") }, reason: "previous attempt failed: bad input"},
		{name: "failed with retry", opts: retry, mutate: func(r *sheet.Row) { r.Processed = sheet.Errored("bad input") }, failures: 1, eligible: true},
		{name: "retry exhausted", opts: retry, mutate: func(r *sheet.Row) { r.Processed = sheet.Errored("bad input") }, failures: 2, reason: "retry limit reached (2/2)"},
		{name: "failures ignored without marker", opts: base, failures: 5, eligible: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := testsupport.ImageRow(2, "Dress", "Anna")
			if tt.mutate != nil {
				tt.mutate(&row)
			}
			got := workflow.NewImageDriver(tt.opts).Evaluate(row, tt.failures)
			if got.Eligible != tt.eligible || got.Reason != tt.reason {
				t.Fatalf("got %+v, want eligible=%v reason=%q", got, tt.eligible, tt.reason)
			}
		})
	}
}

func TestVideoDriverEvaluate(t *testing.T) {
	base := workflow.Options{ImageEnabled: true, VideoEnabled: true, MaxRetries: 1}
	retry := base
	retry.Retry = true

	ready := func() sheet.Row {
		row := testsupport.ImageRow(3, "Coat", "Lena")
		row.Composite = sheet.Present("composite-3")
		row.Prompt = "turn around"
		return row
	}

	tests := []struct {
		name     string
		opts     workflow.Options
		mutate   func(*sheet.Row)
		failures int
		eligible bool
		reason   string
	}{
		{name: "ready", opts: base, eligible: true},
		{name: "disabled", opts: workflow.Options{ImageEnabled: true}, reason: "video workflow disabled"},
		{name: "done", opts: base, mutate: func(r *sheet.Row) { r.Video = sheet.Present("") }, reason: "video already generated"},
		{name: "no composite", opts: base, mutate: func(r *sheet.Row) { r.Composite = sheet.Absent() }, reason: "missing composite image"},
		{name: "no prompt", opts: base, mutate: func(r *sheet.Row) { r.Prompt = "" }, reason: "missing prompt"},
		{name: "failed without retry", opts: base, mutate: func(r *sheet.Row) { r.Video = sheet.Errored("timeout") }, reason: "previous attempt failed: timeout"},
		{name: "failed with retry", opts: retry, mutate: func(r *sheet.Row) { r.Video = sheet.Errored("timeout") }, eligible: true},
		{name: "retry exhausted", opts: retry, mutate: func(r *sheet.Row) { r.Video = sheet.Errored("timeout") }, failures: 1, reason: "retry limit reached (1/1)"},
		{name: "image state irrelevant", opts: base, mutate: func(r *sheet.Row) { r.ProductImage = sheet.Absent() }, eligible: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := ready()
			if tt.mutate != nil {
				tt.mutate(&row)
			}
			got := workflow.NewVideoDriver(tt.opts).Evaluate(row, tt.failures)
			if got.Eligible != tt.eligible || got.Reason != tt.reason {
				t.Fatalf("got %+v, want eligible=%v reason=%q", got, tt.eligible, tt.reason)
			}
		})
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkflows(false, true), testsupport.WithMaxRetries(7))
	opts := workflow.OptionsFromConfig(cfg)
	if opts.ImageEnabled || !opts.VideoEnabled || opts.MaxRetries != 7 || opts.Retry {
		t.Fatalf("unexpected options %+v", opts)
	}
}
