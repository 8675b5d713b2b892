// Package daemon coordinates a mediaflow run end to end.
//
// It holds a flock-based lock in the state directory so only one process
// drives the sheet at a time, prunes old tasks and logs, runs the recovery
// pass, hands resumable tasks back to the workflow runner, and then runs one
// pass or keeps passing on the configured check interval.
//
// Keep orchestration logic here: eligibility and per-row driving live in the
// workflow package while the daemon focuses on startup order and shutdown.
package daemon
