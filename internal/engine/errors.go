package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks transport or service failures talking to the engine.
	ErrUnavailable = errors.New("engine unavailable")
	// ErrQueueFull is returned when the engine refuses new jobs.
	ErrQueueFull = errors.New("engine queue full")
	// ErrJobFailed marks a job the engine reported as failed.
	ErrJobFailed = errors.New("engine job failed")
)

// UnavailableError wraps a failure to reach the engine.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// JobError carries the engine's own failure message. Error returns it
// unchanged so it can be stored on the task verbatim.
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return "job " + e.JobID + " failed"
	}
	return e.Message
}

func (e *JobError) Is(target error) bool { return target == ErrJobFailed }

// Unavailable builds an UnavailableError.
func Unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}
