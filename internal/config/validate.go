package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

// ValidateSheetCredentials reports missing Feishu credentials. Commands that
// read or write the spreadsheet call it before building a client.
func (c *Config) ValidateSheetCredentials() error {
	missing := make([]string, 0, 3)
	if c.Sheet.AppID == "" {
		missing = append(missing, "sheet.app_id (FEISHU_APP_ID)")
	}
	if c.Sheet.AppSecret == "" {
		missing = append(missing, "sheet.app_secret (FEISHU_APP_SECRET)")
	}
	if c.Sheet.SpreadsheetToken == "" {
		missing = append(missing, "sheet.spreadsheet_token (FEISHU_SPREADSHEET_TOKEN)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing sheet credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateEngineCredentials reports missing RunningHub settings for the
// enabled workflows.
func (c *Config) ValidateEngineCredentials() error {
	if c.Engine.APIKey == "" {
		return errors.New("engine.api_key is required (or set RUNNINGHUB_API_KEY)")
	}
	if c.Workflow.ImageEnabled && c.Engine.ImageWorkflowID == "" {
		return errors.New("engine.image_workflow_id must be set when workflow.image_enabled is true")
	}
	if c.Workflow.VideoEnabled && c.Engine.VideoWorkflowID == "" {
		return errors.New("engine.video_workflow_id must be set when workflow.video_enabled is true")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendJSON, BackendSQLite, c.Store.Backend)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositive([]namedValue{
		{"workflow.max_concurrent", c.Workflow.MaxConcurrent},
		{"workflow.poll_interval", c.Workflow.PollInterval},
		{"workflow.poll_timeout", c.Workflow.PollTimeout},
		{"workflow.status_check_failures", c.Workflow.StatusCheckFailures},
		{"workflow.check_interval", c.Workflow.CheckInterval},
		{"sheet.request_timeout", c.Sheet.RequestTimeout},
		{"engine.request_timeout", c.Engine.RequestTimeout},
	}); err != nil {
		return err
	}
	if c.Workflow.PollTimeout < c.Workflow.PollInterval {
		return errors.New("workflow.poll_timeout must be at least workflow.poll_interval")
	}
	if c.Workflow.MaxRetries < 0 {
		return errors.New("workflow.max_retries must be >= 0")
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	for _, ep := range []namedString{
		{"sheet.base_url", c.Sheet.BaseURL},
		{"engine.base_url", c.Engine.BaseURL},
	} {
		parsed, err := url.Parse(ep.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", ep.key, ep.value)
		}
	}
	return nil
}

type namedValue struct {
	key   string
	value int
}

type namedString struct {
	key   string
	value string
}

func ensurePositive(values []namedValue) error {
	for _, v := range values {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive", v.key)
		}
	}
	return nil
}
