package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	OutputDir string `toml:"output_dir"`
	TempDir   string `toml:"temp_dir"`
	LogDir    string `toml:"log_dir"`
}

// Store selects the task store backend and its retention policy.
type Store struct {
	Backend       string `toml:"backend"`
	RetentionDays int    `toml:"retention_days"`
}

// Columns maps logical sheet roles to header text.
type Columns struct {
	ProductImage string `toml:"product_image"`
	ModelImage   string `toml:"model_image"`
	Prompt       string `toml:"prompt"`
	Processed    string `toml:"processed"`
	Composite    string `toml:"composite"`
	ProductName  string `toml:"product_name"`
	ModelName    string `toml:"model_name"`
	VideoStatus  string `toml:"video_status"`
}

// Markers is the vocabulary used to classify status cells and the text
// written back on completion.
type Markers struct {
	ProcessedValues []string `toml:"processed_values"`
	VideoDoneValues []string `toml:"video_done_values"`
	NegativeValues  []string `toml:"negative_values"`
	FailurePrefix   string   `toml:"failure_prefix"`
	ProcessedText   string   `toml:"processed_text"`
	VideoDoneText   string   `toml:"video_done_text"`
}

// Sheet contains Feishu spreadsheet settings.
type Sheet struct {
	BaseURL          string  `toml:"base_url"`
	AppID            string  `toml:"app_id"`
	AppSecret        string  `toml:"app_secret"`
	SpreadsheetToken string  `toml:"spreadsheet_token"`
	SheetName        string  `toml:"sheet_name"`
	Range            string  `toml:"range"`
	RequestTimeout   int     `toml:"request_timeout"`
	Columns          Columns `toml:"columns"`
	Markers          Markers `toml:"markers"`
}

// Nodes identifies the workflow graph nodes that receive inputs.
type Nodes struct {
	ProductImage string `toml:"product_image"`
	ModelImage   string `toml:"model_image"`
	Prompt       string `toml:"prompt"`
	VideoImage   string `toml:"video_image"`
	VideoPrompt  string `toml:"video_prompt"`
}

// Engine contains RunningHub workflow engine settings.
type Engine struct {
	BaseURL         string `toml:"base_url"`
	APIKey          string `toml:"api_key"`
	ImageWorkflowID string `toml:"image_workflow_id"`
	VideoWorkflowID string `toml:"video_workflow_id"`
	RequestTimeout  int    `toml:"request_timeout"`
	MaxRetries      int    `toml:"max_retries"`
	RetryDelay      int    `toml:"retry_delay"`
	Nodes           Nodes  `toml:"nodes"`
}

// Workflow contains driver toggles, concurrency, and polling settings.
type Workflow struct {
	ImageEnabled        bool `toml:"image_enabled"`
	VideoEnabled        bool `toml:"video_enabled"`
	MaxConcurrent       int  `toml:"max_concurrent"`
	PollInterval        int  `toml:"poll_interval"`
	PollTimeout         int  `toml:"poll_timeout"`
	StatusCheckFailures int  `toml:"status_check_failures"`
	CheckInterval       int  `toml:"check_interval"`
	MaxRetries          int  `toml:"max_retries"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Run            bool   `toml:"run"`
	Recovery       bool   `toml:"recovery"`
	Failures       bool   `toml:"failures"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for mediaflow.
//
// Configuration sections by subsystem:
//   - Paths: state, output, temp, and log directories
//   - Store: task store backend and retention
//   - Sheet: Feishu credentials, column headers, and marker vocabulary
//   - Engine: RunningHub credentials, workflow IDs, and node IDs
//   - Workflow: driver toggles, concurrency, and polling
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Sheet         Sheet         `toml:"sheet"`
	Engine        Engine        `toml:"engine"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("mediaflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the state, output, temp, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.ImageOutputDir(), c.VideoOutputDir(), c.Paths.TempDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StorePath returns the task store location for the configured backend.
func (c *Config) StorePath() string {
	if c.Store.Backend == BackendSQLite {
		return filepath.Join(c.Paths.StateDir, "tasks.db")
	}
	return filepath.Join(c.Paths.StateDir, "tasks.json")
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "mediaflow.lock")
}

// ImageOutputDir is where composite images are written.
func (c *Config) ImageOutputDir() string {
	return filepath.Join(c.Paths.OutputDir, "img")
}

// VideoOutputDir is where generated videos are written.
func (c *Config) VideoOutputDir() string {
	return filepath.Join(c.Paths.OutputDir, "video")
}

// PollInterval returns the engine status polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollInterval) * time.Second
}

// PollTimeout returns the overall wait budget for a single engine job.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Workflow.PollTimeout) * time.Second
}

// CheckInterval returns the delay between passes in watch mode.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Workflow.CheckInterval) * time.Second
}

// Retention returns the age after which completed tasks are removed, or zero when disabled.
func (c *Config) Retention() time.Duration {
	if c.Store.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML with secrets masked.
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	masked.Sheet.AppSecret = mask(masked.Sheet.AppSecret)
	masked.Engine.APIKey = mask(masked.Engine.APIKey)
	return toml.Marshal(masked)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
