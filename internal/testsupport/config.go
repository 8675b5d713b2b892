package testsupport

import (
	"path/filepath"
	"testing"

	"mediaflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Polling is tightened so engine waits finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.TempDir = filepath.Join(base, "tmp")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Engine.APIKey = "test-key"
	cfgVal.Engine.ImageWorkflowID = "wf-image"
	cfgVal.Engine.VideoWorkflowID = "wf-video"
	cfgVal.Sheet.AppID = "app"
	cfgVal.Sheet.AppSecret = "secret"
	cfgVal.Sheet.SpreadsheetToken = "sheet-token"
	cfgVal.Workflow.PollInterval = 1
	cfgVal.Workflow.PollTimeout = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithBackend selects the task store backend.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Backend = backend
	}
}

// WithWorkflows toggles the image and video workflows.
func WithWorkflows(image, video bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.ImageEnabled = image
		b.cfg.Workflow.VideoEnabled = video
	}
}

// WithMaxRetries sets the retry budget per row.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxRetries = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
