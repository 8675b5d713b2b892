// Package logging assembles structured slog loggers for the CLI and the
// workflow runner.
//
// It owns the console and JSON handlers, level parsing, per-run log files under
// the configured log directory, and retention pruning of old run logs.
// Context helpers tag log lines with task IDs, rows, workflow types, and
// phases stamped by the services package.
package logging
