package task

import (
	"maps"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusPhase1Running Status = "PHASE1_RUNNING"
	StatusPhase1Done    Status = "PHASE1_DONE"
	StatusPhase2Running Status = "PHASE2_RUNNING"
	StatusCompleted     Status = "COMPLETED"
	StatusFailed        Status = "FAILED"
)

var allStatuses = []Status{
	StatusPending,
	StatusPhase1Running,
	StatusPhase1Done,
	StatusPhase2Running,
	StatusCompleted,
	StatusFailed,
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// NonTerminalStatuses returns the statuses recovery must inspect.
func NonTerminalStatuses() []Status {
	return []Status{StatusPending, StatusPhase1Running, StatusPhase1Done, StatusPhase2Running}
}

// ParseStatus converts a user supplied string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsRunning reports whether an engine job may be in flight.
func (s Status) IsRunning() bool {
	return s == StatusPhase1Running || s == StatusPhase2Running
}

// WorkflowType identifies the pipeline a task belongs to.
type WorkflowType string

const (
	WorkflowImageComposition WorkflowType = "IMAGE_COMPOSITION"
	WorkflowImageToVideo     WorkflowType = "IMAGE_TO_VIDEO"
)

// ParseWorkflow converts a user supplied string into a WorkflowType. Short
// aliases "image" and "video" are accepted.
func ParseWorkflow(value string) (WorkflowType, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(WorkflowImageComposition), "IMAGE":
		return WorkflowImageComposition, true
	case string(WorkflowImageToVideo), "VIDEO":
		return WorkflowImageToVideo, true
	default:
		return "", false
	}
}

// Phases returns how many generation phases the workflow runs.
func (w WorkflowType) Phases() int {
	if w == WorkflowImageToVideo {
		return 2
	}
	return 1
}

// Metadata keys written by the workflow drivers.
const (
	MetaPrompt        = "prompt"
	MetaProductImage  = "product_image"
	MetaModelImage    = "model_image"
	MetaCompositeRef  = "composite_ref"
	MetaCorrelationID = "correlation_id"
)

// Task is one attempt to run a workflow for a spreadsheet row.
type Task struct {
	ID            string            `json:"id"`
	RowIndex      int               `json:"row_index"`
	ProductName   string            `json:"product_name"`
	ModelName     string            `json:"model_name"`
	Workflow      WorkflowType      `json:"workflow_type"`
	Status        Status            `json:"status"`
	ExternalJobID string            `json:"external_job_id,omitempty"`
	ImagePath     string            `json:"image_path,omitempty"`
	VideoPath     string            `json:"video_path,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// IsActive reports whether the task still occupies its row slot.
func (t Task) IsActive() bool {
	return !t.Status.IsTerminal()
}

// Clone returns a deep copy safe to hand to callers.
func (t Task) Clone() Task {
	if t.Metadata != nil {
		t.Metadata = maps.Clone(t.Metadata)
	}
	return t
}

// Meta returns a metadata value or the empty string.
func (t Task) Meta(key string) string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata[key]
}

// Phase reports the generation phase the task is in or last reached.
func (t Task) Phase() int {
	switch t.Status {
	case StatusPending, StatusPhase1Running:
		return 1
	case StatusPhase1Done, StatusPhase2Running:
		return 2
	case StatusCompleted:
		return t.Workflow.Phases()
	}
	if t.Workflow == WorkflowImageToVideo && t.ImagePath != "" {
		return 2
	}
	return 1
}

// Counters are the rollups maintained on every put.
type Counters struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

func newCounters() Counters {
	return Counters{ByStatus: make(map[Status]int, len(allStatuses))}
}

func (c *Counters) add(status Status, delta int) {
	if c.ByStatus == nil {
		c.ByStatus = make(map[Status]int, len(allStatuses))
	}
	c.ByStatus[status] += delta
	if c.ByStatus[status] == 0 {
		delete(c.ByStatus, status)
	}
	c.Total += delta
}

func (c Counters) clone() Counters {
	out := Counters{Total: c.Total, ByStatus: make(map[Status]int, len(c.ByStatus))}
	maps.Copy(out.ByStatus, c.ByStatus)
	return out
}

// Active returns the number of non-terminal tasks.
func (c Counters) Active() int {
	return c.Total - c.ByStatus[StatusCompleted] - c.ByStatus[StatusFailed]
}

// Equal reports whether both counters describe the same totals.
func (c Counters) Equal(other Counters) bool {
	if c.Total != other.Total {
		return false
	}
	for _, s := range allStatuses {
		if c.ByStatus[s] != other.ByStatus[s] {
			return false
		}
	}
	return true
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Statuses []Status
	Workflow WorkflowType
	RowIndex int
}

func (f Filter) matches(t Task) bool {
	if f.Workflow != "" && t.Workflow != f.Workflow {
		return false
	}
	if f.RowIndex > 0 && t.RowIndex != f.RowIndex {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if t.Status == s {
			return true
		}
	}
	return false
}
