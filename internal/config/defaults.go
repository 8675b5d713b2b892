package config

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

const (
	defaultConfigPath            = "~/.config/mediaflow/config.toml"
	defaultStateDir              = "~/.local/share/mediaflow"
	defaultOutputDir             = "~/mediaflow/output"
	defaultTempDir               = "~/.cache/mediaflow/tmp"
	defaultLogDir                = "~/.local/share/mediaflow/logs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultSheetBaseURL          = "https://open.feishu.cn/open-apis"
	defaultSheetRange            = "A1:Z1000"
	defaultSheetRequestTimeout   = 30
	defaultEngineBaseURL         = "https://www.runninghub.cn"
	defaultEngineRequestTimeout  = 300
	defaultEngineMaxRetries      = 3
	defaultEngineRetryDelay      = 5
	defaultMaxConcurrent         = 1
	defaultPollInterval          = 30
	defaultPollTimeout           = 1800
	defaultStatusCheckFailures   = 3
	defaultCheckInterval         = 120
	defaultWorkflowMaxRetries    = 3
	defaultNotifyRequestTimeout  = 10
	defaultFailurePrefix         = "处理失败"
	defaultProcessedText         = "已处理"
	defaultVideoDoneText         = "是"
	defaultProductImageNode      = "156"
	defaultModelImageNode        = "145"
	defaultPromptNode            = "30"
	defaultVideoImageNode        = "293"
	defaultVideoPromptNode       = "368"
	defaultProductImageHeader    = "产品图"
	defaultModelImageHeader      = "模特图"
	defaultPromptHeader          = "提示词"
	defaultProcessedHeader       = "图片是否已处理"
	defaultCompositeHeader       = "产品模特合成图"
	defaultProductNameHeader     = "产品名"
	defaultModelNameHeader       = "模特名"
	defaultVideoStatusHeader     = "视频是否已实现"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			OutputDir: defaultOutputDir,
			TempDir:   defaultTempDir,
			LogDir:    defaultLogDir,
		},
		Store: Store{
			Backend: BackendJSON,
		},
		Sheet: Sheet{
			BaseURL:        defaultSheetBaseURL,
			Range:          defaultSheetRange,
			RequestTimeout: defaultSheetRequestTimeout,
			Columns:        defaultColumns(),
			Markers:        defaultMarkers(),
		},
		Engine: Engine{
			BaseURL:        defaultEngineBaseURL,
			RequestTimeout: defaultEngineRequestTimeout,
			MaxRetries:     defaultEngineMaxRetries,
			RetryDelay:     defaultEngineRetryDelay,
			Nodes: Nodes{
				ProductImage: defaultProductImageNode,
				ModelImage:   defaultModelImageNode,
				Prompt:       defaultPromptNode,
				VideoImage:   defaultVideoImageNode,
				VideoPrompt:  defaultVideoPromptNode,
			},
		},
		Workflow: Workflow{
			ImageEnabled:        true,
			VideoEnabled:        true,
			MaxConcurrent:       defaultMaxConcurrent,
			PollInterval:        defaultPollInterval,
			PollTimeout:         defaultPollTimeout,
			StatusCheckFailures: defaultStatusCheckFailures,
			CheckInterval:       defaultCheckInterval,
			MaxRetries:          defaultWorkflowMaxRetries,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Run:            true,
			Recovery:       true,
			Failures:       true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

func defaultColumns() Columns {
	return Columns{
		ProductImage: defaultProductImageHeader,
		ModelImage:   defaultModelImageHeader,
		Prompt:       defaultPromptHeader,
		Processed:    defaultProcessedHeader,
		Composite:    defaultCompositeHeader,
		ProductName:  defaultProductNameHeader,
		ModelName:    defaultModelNameHeader,
		VideoStatus:  defaultVideoStatusHeader,
	}
}

func defaultMarkers() Markers {
	return Markers{
		ProcessedValues: []string{"已处理", "已完成", "processed", "completed"},
		VideoDoneValues: []string{"是", "yes", "done"},
		NegativeValues:  []string{"否", "no", "false", "0"},
		FailurePrefix:   defaultFailurePrefix,
		ProcessedText:   defaultProcessedText,
		VideoDoneText:   defaultVideoDoneText,
	}
}
