package workflow

import (
	"cmp"
	"slices"
	"time"

	"mediaflow/internal/task"
)

// Outcome classifies what happened to a row in a pass.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeInterrupted Outcome = "interrupted"
)

// RowResult is the result of one workflow for one row.
type RowResult struct {
	Row      int
	Label    string
	Workflow task.WorkflowType
	TaskID   string
	Outcome  Outcome
	Reason   string
	Artifact string
	Duration time.Duration
}

// Report summarizes a pass or a resume.
type Report struct {
	Started  time.Time
	Duration time.Duration
	Results  []RowResult
}

// Count returns how many results have the outcome.
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Attempted counts results that ran a task to a terminal state.
func (r Report) Attempted() int {
	return r.Count(OutcomeCompleted) + r.Count(OutcomeFailed)
}

// SuccessRate is the completed share of attempted results, in percent.
func (r Report) SuccessRate() float64 {
	attempted := r.Attempted()
	if attempted == 0 {
		return 0
	}
	return float64(r.Count(OutcomeCompleted)) / float64(attempted) * 100
}

// Sorted returns the results ordered by row, then workflow.
func (r Report) Sorted() []RowResult {
	out := slices.Clone(r.Results)
	slices.SortStableFunc(out, func(a, b RowResult) int {
		if c := cmp.Compare(a.Row, b.Row); c != 0 {
			return c
		}
		return cmp.Compare(a.Workflow, b.Workflow)
	})
	return out
}

// Merge appends other's results and extends the duration to cover both.
func (r Report) Merge(other Report) Report {
	merged := Report{Started: r.Started, Results: append(slices.Clone(r.Results), other.Results...)}
	if merged.Started.IsZero() || (!other.Started.IsZero() && other.Started.Before(merged.Started)) {
		merged.Started = other.Started
	}
	end := r.Started.Add(r.Duration)
	if otherEnd := other.Started.Add(other.Duration); otherEnd.After(end) {
		end = otherEnd
	}
	if !merged.Started.IsZero() {
		merged.Duration = end.Sub(merged.Started)
	}
	return merged
}
