// Package main hosts the mediaflow CLI entrypoint and command graph.
//
// The Cobra-based command tree runs workflow passes against the spreadsheet,
// reconciles interrupted tasks, inspects and prunes the task store, checks
// readiness, and scaffolds configuration. It centralizes configuration
// resolution, logger setup, and collaborator wiring in commandContext so
// subcommands can focus on output.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
