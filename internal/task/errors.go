package task

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage marks a persistence failure. It is the only task error that
	// should abort a run.
	ErrStorage = errors.New("task storage failure")
	// ErrDuplicateActive marks an attempt to create a second active task for a
	// row and workflow.
	ErrDuplicateActive = errors.New("duplicate active task")
	// ErrInvalidTransition marks a transition attempted from a state that does
	// not allow it.
	ErrInvalidTransition = errors.New("invalid task transition")
	// ErrNotFound is returned when a task ID is unknown.
	ErrNotFound = errors.New("task not found")
	// ErrSchemaMismatch indicates the on-disk store has a different schema version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// StorageError wraps a backend failure with the operation and path involved.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("task store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("task store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// ErrorKind classifies the error for callers that map failures to outcomes.
func (e *StorageError) ErrorKind() string { return "storage" }

// DuplicateActiveTaskError reports the task already occupying a row slot.
type DuplicateActiveTaskError struct {
	RowIndex   int
	Workflow   WorkflowType
	ExistingID string
}

func (e *DuplicateActiveTaskError) Error() string {
	return fmt.Sprintf("row %d already has active %s task %s", e.RowIndex, e.Workflow, e.ExistingID)
}

func (e *DuplicateActiveTaskError) Is(target error) bool { return target == ErrDuplicateActive }

// InvalidTransitionError reports an operation refused by the state machine.
type InvalidTransitionError struct {
	TaskID string
	Op     string
	From   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s task %s from %s", e.Op, e.TaskID, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func storageErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StorageError
	if errors.As(err, &existing) {
		return err
	}
	return &StorageError{Op: op, Path: path, Err: err}
}
