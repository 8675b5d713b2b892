// Package task persists generation tasks and the rollup counters derived
// from them.
//
// The Store keeps every task in memory and writes each change through to a
// backend before Put returns: either a single JSON snapshot replaced
// atomically on disk, or a SQLite database where each change is one
// transaction. Readers always observe a consistent copy; a failed write
// leaves both the in-memory state and the file as they were before the call.
//
// The Store enforces the one-active-task-per-row rule but knows nothing about
// which transitions are legal. That belongs to the lifecycle package, which
// is the only caller expected to mutate tasks.
package task
