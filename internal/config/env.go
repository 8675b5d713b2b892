package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envOverrides lists the environment variables that take precedence over the
// config file. Empty variables are ignored.
type envOverrides struct {
	FeishuAppID            string `env:"FEISHU_APP_ID"`
	FeishuAppSecret        string `env:"FEISHU_APP_SECRET"`
	FeishuSpreadsheetToken string `env:"FEISHU_SPREADSHEET_TOKEN"`
	RunningHubAPIKey       string `env:"RUNNINGHUB_API_KEY"`
	ImageWorkflowID        string `env:"RUNNINGHUB_IMAGE_WORKFLOW_ID"`
	VideoWorkflowID        string `env:"RUNNINGHUB_VIDEO_WORKFLOW_ID"`
	NtfyTopic              string `env:"MEDIAFLOW_NTFY_TOPIC"`
	LogLevel               string `env:"MEDIAFLOW_LOG_LEVEL"`
	StateDir               string `env:"MEDIAFLOW_STATE_DIR"`
}

// loadDotEnv reads a .env file from the working directory and from the
// config directory when present. Variables already set in the process
// environment win.
func loadDotEnv(configDir string) error {
	candidates := []string{".env"}
	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, ".env"))
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %s: %w", abs, err)
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load %s: %w", abs, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	setIfPresent(&c.Sheet.AppID, overrides.FeishuAppID)
	setIfPresent(&c.Sheet.AppSecret, overrides.FeishuAppSecret)
	setIfPresent(&c.Sheet.SpreadsheetToken, overrides.FeishuSpreadsheetToken)
	setIfPresent(&c.Engine.APIKey, overrides.RunningHubAPIKey)
	setIfPresent(&c.Engine.ImageWorkflowID, overrides.ImageWorkflowID)
	setIfPresent(&c.Engine.VideoWorkflowID, overrides.VideoWorkflowID)
	setIfPresent(&c.Notifications.NtfyTopic, overrides.NtfyTopic)
	setIfPresent(&c.Logging.Level, overrides.LogLevel)
	setIfPresent(&c.Paths.StateDir, overrides.StateDir)
	return nil
}

func setIfPresent(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}
