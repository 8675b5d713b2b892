// Package config loads, normalizes, and validates mediaflow configuration.
//
// It supplies repository defaults (RunningHub node IDs, polling budgets, Feishu
// column headers), expands user paths including tilde shortcuts, reads TOML
// files, loads .env files, and applies environment overrides such as
// FEISHU_APP_SECRET and RUNNINGHUB_API_KEY.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
