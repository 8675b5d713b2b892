// Package recovery reconciles tasks left non-terminal by a previous run with
// what the engine actually knows about their jobs.
//
// Coordinator.Run executes once at startup, before any row is dispatched.
// Every task ends the pass either completed, failed with the reason it could
// not be trusted, or listed in Summary.Resume for the runner to keep polling.
// A job is never resubmitted: a job the engine no longer knows is failed as
// lost. Only a task store failure aborts the pass.
package recovery
