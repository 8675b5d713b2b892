package services

import (
	"errors"
	"fmt"
	"strings"
)

// Markers tagging errors from the sheet and engine clients. Callers classify
// with errors.Is; the poller and daemon use Permanent to stop retrying.
var (
	// ErrUpstream is a well-formed rejection from Feishu or RunningHub.
	ErrUpstream = errors.New("upstream service error")
	// ErrValidation covers rows or payloads that cannot be submitted as-is.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration means credentials, sheet IDs or column headers are wrong.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound is a missing sheet, record, or engine task.
	ErrNotFound = errors.New("not found")
	ErrTimeout  = errors.New("timeout")
	// ErrTransient is the default: network resets, 5xx and rate limits.
	ErrTransient = errors.New("transient failure")
)

// Wrap tags err with marker and prefixes it with the service and the call
// that failed, e.g. "runninghub: create: queue full". A nil marker means
// ErrTransient.
func Wrap(marker error, service, operation, message string, err error) error {
	detail := describe(service, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Permanent reports whether retrying err against the same sheet or engine
// cannot succeed. Untagged errors are retried.
func Permanent(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConfiguration) || errors.Is(err, ErrNotFound)
}

func describe(service, operation, message string) string {
	var parts []string
	for _, p := range []string{service, operation, message} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
