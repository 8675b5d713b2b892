package engine

import "context"

// State is the engine-reported state of a job.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateUnknown   State = "UNKNOWN"
)

// Terminal reports whether the job will not change state again.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateUnknown
}

// Status is the result of polling a job.
type Status struct {
	State     State
	Artifacts []string
	Message   string
}

// PrimaryArtifact returns the output a job is judged by. Workflows that emit
// several files put the final one last.
func PrimaryArtifact(refs []string) string {
	if len(refs) == 0 {
		return ""
	}
	return refs[len(refs)-1]
}

// Input sets one field on a workflow node.
type Input struct {
	NodeID string
	Field  string
	Value  string
}

// Attachment is a file uploaded before submission and bound to a node field.
type Attachment struct {
	NodeID string
	Field  string
	Name   string
	Data   []byte
}

// Job is a workflow submission.
type Job struct {
	WorkflowID  string
	Inputs      []Input
	Attachments []Attachment
}

// Engine is the generation service contract.
type Engine interface {
	Submit(ctx context.Context, job Job) (string, error)
	Poll(ctx context.Context, jobID string) (Status, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
}
