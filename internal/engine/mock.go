package engine

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"io/fs"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const mockScheme = "mock://"

// placeholderMP4 is an ftyp box, enough for file type sniffing.
var placeholderMP4 = []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}

// Outcome scripts how a mock job behaves.
type Outcome struct {
	// State is the terminal state reported once the job finishes. Zero means
	// SUCCEEDED. StatePending or StateRunning keep the job in flight forever.
	State State
	// Message accompanies FAILED outcomes.
	Message string
	// Artifacts overrides the generated artifact refs.
	Artifacts []string
	// Polls is how many polls report RUNNING before the outcome is visible.
	// Negative uses the mock default.
	Polls int
	// PollErr is returned by every Poll for the job.
	PollErr error
}

type mockJob struct {
	job     Job
	outcome Outcome
	polls   int
}

// Mock is an in-memory Engine.
type Mock struct {
	mu            sync.Mutex
	jobs          map[string]*mockJob
	artifacts     map[string][]byte
	script        []Outcome
	defaultPolls  int
	videoWorkflow string
	submitErr     error
	fetchErr      error
	submissions   []Job
	pollCount     int
}

// MockOption customizes a Mock.
type MockOption func(*Mock)

// WithPollsToFinish sets how many polls a job stays RUNNING by default.
func WithPollsToFinish(n int) MockOption {
	return func(m *Mock) {
		if n >= 0 {
			m.defaultPolls = n
		}
	}
}

// WithVideoWorkflow marks the workflow ID whose jobs produce video artifacts.
func WithVideoWorkflow(id string) MockOption {
	return func(m *Mock) {
		m.videoWorkflow = id
	}
}

// NewMock returns a Mock whose jobs succeed after one RUNNING poll.
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		jobs:         make(map[string]*mockJob),
		artifacts:    make(map[string][]byte),
		defaultPolls: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Script queues outcomes consumed by subsequent submissions in order.
func (m *Mock) Script(outcomes ...Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, outcomes...)
}

// Seed registers a job as if it had been submitted by an earlier process.
func (m *Mock) Seed(jobID string, outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID] = &mockJob{outcome: m.normalize(jobID, Job{}, outcome)}
}

// PutArtifact makes ref fetchable with the given content.
func (m *Mock) PutArtifact(ref string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[ref] = append([]byte(nil), data...)
}

// FailSubmissions makes Submit return err until called again with nil.
func (m *Mock) FailSubmissions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// FailFetches makes Fetch return err until called again with nil.
func (m *Mock) FailFetches(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// Submissions returns every job accepted so far.
func (m *Mock) Submissions() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Job(nil), m.submissions...)
}

// PollCount returns the number of Poll calls observed.
func (m *Mock) PollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollCount
}

// Submit records the job and returns a new mock job ID.
func (m *Mock) Submit(ctx context.Context, job Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", m.submitErr
	}

	outcome := Outcome{Polls: -1}
	if len(m.script) > 0 {
		outcome = m.script[0]
		m.script = m.script[1:]
	}
	id := "mock-" + uuid.NewString()
	m.jobs[id] = &mockJob{job: job, outcome: m.normalize(id, job, outcome)}
	m.submissions = append(m.submissions, job)
	return id, nil
}

func (m *Mock) normalize(id string, job Job, outcome Outcome) Outcome {
	if outcome.State == "" {
		outcome.State = StateSucceeded
	}
	if outcome.Polls < 0 {
		outcome.Polls = m.defaultPolls
	}
	if outcome.State == StateSucceeded && len(outcome.Artifacts) == 0 {
		ext := ".png"
		if m.videoWorkflow != "" && job.WorkflowID == m.videoWorkflow {
			ext = ".mp4"
		}
		outcome.Artifacts = []string{mockScheme + id + "/output" + ext}
	}
	return outcome
}

// Poll advances the job by one step and reports its state.
func (m *Mock) Poll(ctx context.Context, jobID string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollCount++

	j, ok := m.jobs[jobID]
	if !ok {
		return Status{State: StateUnknown, Message: "no such job"}, nil
	}
	if j.outcome.PollErr != nil {
		return Status{}, j.outcome.PollErr
	}
	j.polls++
	if j.polls <= j.outcome.Polls || !j.outcome.State.Terminal() {
		state := StateRunning
		if j.polls == 1 && j.outcome.State == StatePending {
			state = StatePending
		}
		return Status{State: state}, nil
	}
	return Status{
		State:     j.outcome.State,
		Artifacts: append([]string(nil), j.outcome.Artifacts...),
		Message:   j.outcome.Message,
	}, nil
}

// Fetch returns registered artifact bytes, or generated content for refs
// minted by the mock.
func (m *Mock) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	fetchErr := m.fetchErr
	data, ok := m.artifacts[ref]
	m.mu.Unlock()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if ok {
		return append([]byte(nil), data...), nil
	}
	if !strings.HasPrefix(ref, mockScheme) {
		return nil, Unavailable("fetch", fmt.Errorf("%s: %w", ref, fs.ErrNotExist))
	}
	if strings.HasSuffix(ref, ".mp4") {
		return append([]byte(nil), placeholderMP4...), nil
	}
	img := imaging.New(64, 64, color.NRGBA{R: 90, G: 140, B: 200, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode mock image: %w", err)
	}
	return buf.Bytes(), nil
}
