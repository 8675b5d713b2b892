// Package lifecycle is the only writer of task state.
//
// Manager validates every transition against the task state machine before
// writing it through to the task store:
//
//	PENDING -> PHASE1_RUNNING -> PHASE1_DONE -> PHASE2_RUNNING -> COMPLETED
//
// FAILED is reachable from every non-terminal state, and single-phase
// workflows finish at COMPLETED directly from CompletePhase1. Transitions on
// one task are serialized; a caller racing from a stale state receives an
// InvalidTransitionError instead of overwriting newer state.
package lifecycle
