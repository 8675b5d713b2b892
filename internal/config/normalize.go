package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeSheet()
	c.normalizeEngine()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key   string
		value *string
		def   string
	}{
		{"paths.state_dir", &c.Paths.StateDir, defaultStateDir},
		{"paths.output_dir", &c.Paths.OutputDir, defaultOutputDir},
		{"paths.temp_dir", &c.Paths.TempDir, defaultTempDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, f := range fields {
		if strings.TrimSpace(*f.value) == "" {
			*f.value = f.def
		}
		expanded, err := expandPath(strings.TrimSpace(*f.value))
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.value = expanded
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = BackendJSON
	}
	if c.Store.RetentionDays < 0 {
		c.Store.RetentionDays = 0
	}
}

func (c *Config) normalizeSheet() {
	c.Sheet.BaseURL = strings.TrimRight(strings.TrimSpace(c.Sheet.BaseURL), "/")
	if c.Sheet.BaseURL == "" {
		c.Sheet.BaseURL = defaultSheetBaseURL
	}
	c.Sheet.AppID = strings.TrimSpace(c.Sheet.AppID)
	c.Sheet.AppSecret = strings.TrimSpace(c.Sheet.AppSecret)
	c.Sheet.SpreadsheetToken = strings.TrimSpace(c.Sheet.SpreadsheetToken)
	c.Sheet.SheetName = strings.TrimSpace(c.Sheet.SheetName)
	c.Sheet.Range = strings.TrimSpace(c.Sheet.Range)
	if c.Sheet.Range == "" {
		c.Sheet.Range = defaultSheetRange
	}
	if c.Sheet.RequestTimeout <= 0 {
		c.Sheet.RequestTimeout = defaultSheetRequestTimeout
	}

	defaults := defaultColumns()
	fillBlank(&c.Sheet.Columns.ProductImage, defaults.ProductImage)
	fillBlank(&c.Sheet.Columns.ModelImage, defaults.ModelImage)
	fillBlank(&c.Sheet.Columns.Prompt, defaults.Prompt)
	fillBlank(&c.Sheet.Columns.Processed, defaults.Processed)
	fillBlank(&c.Sheet.Columns.Composite, defaults.Composite)
	fillBlank(&c.Sheet.Columns.ProductName, defaults.ProductName)
	fillBlank(&c.Sheet.Columns.ModelName, defaults.ModelName)
	fillBlank(&c.Sheet.Columns.VideoStatus, defaults.VideoStatus)

	markers := defaultMarkers()
	c.Sheet.Markers.ProcessedValues = cleanList(c.Sheet.Markers.ProcessedValues, markers.ProcessedValues)
	c.Sheet.Markers.VideoDoneValues = cleanList(c.Sheet.Markers.VideoDoneValues, markers.VideoDoneValues)
	c.Sheet.Markers.NegativeValues = cleanList(c.Sheet.Markers.NegativeValues, markers.NegativeValues)
	fillBlank(&c.Sheet.Markers.FailurePrefix, markers.FailurePrefix)
	fillBlank(&c.Sheet.Markers.ProcessedText, markers.ProcessedText)
	fillBlank(&c.Sheet.Markers.VideoDoneText, markers.VideoDoneText)
}

func (c *Config) normalizeEngine() {
	c.Engine.BaseURL = strings.TrimRight(strings.TrimSpace(c.Engine.BaseURL), "/")
	if c.Engine.BaseURL == "" {
		c.Engine.BaseURL = defaultEngineBaseURL
	}
	c.Engine.APIKey = strings.TrimSpace(c.Engine.APIKey)
	c.Engine.ImageWorkflowID = strings.TrimSpace(c.Engine.ImageWorkflowID)
	c.Engine.VideoWorkflowID = strings.TrimSpace(c.Engine.VideoWorkflowID)
	if c.Engine.RequestTimeout <= 0 {
		c.Engine.RequestTimeout = defaultEngineRequestTimeout
	}
	if c.Engine.MaxRetries < 0 {
		c.Engine.MaxRetries = 0
	}
	if c.Engine.RetryDelay < 0 {
		c.Engine.RetryDelay = 0
	}
	fillBlank(&c.Engine.Nodes.ProductImage, defaultProductImageNode)
	fillBlank(&c.Engine.Nodes.ModelImage, defaultModelImageNode)
	fillBlank(&c.Engine.Nodes.Prompt, defaultPromptNode)
	fillBlank(&c.Engine.Nodes.VideoImage, defaultVideoImageNode)
	fillBlank(&c.Engine.Nodes.VideoPrompt, defaultVideoPromptNode)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format != "json" {
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func fillBlank(dst *string, fallback string) {
	*dst = strings.TrimSpace(*dst)
	if *dst == "" {
		*dst = fallback
	}
}

func cleanList(values, fallback []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
