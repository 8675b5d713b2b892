package preflight

import (
	"context"

	"mediaflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Targets are the remote services RunAll checks. A nil target skips both
// the credential and the connectivity check for that service.
type Targets struct {
	Engine Pinger
	Sheet  Pinger
}

// RunAll executes the preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Image output", cfg.ImageOutputDir()),
		CheckDirectoryAccess("Video output", cfg.VideoOutputDir()),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	if targets.Engine != nil && (cfg.Workflow.ImageEnabled || cfg.Workflow.VideoEnabled) {
		creds := CheckCredentials("Engine credentials", cfg.ValidateEngineCredentials())
		results = append(results, creds)
		if creds.Passed {
			results = append(results, CheckService(ctx, "RunningHub", targets.Engine))
		}
	}
	if targets.Sheet != nil {
		creds := CheckCredentials("Sheet credentials", cfg.ValidateSheetCredentials())
		results = append(results, creds)
		if creds.Passed {
			results = append(results, CheckService(ctx, "Feishu sheet", targets.Sheet))
		}
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
