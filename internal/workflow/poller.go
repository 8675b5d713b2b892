package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"mediaflow/internal/engine"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

const maxStatusBackoff = 5 * time.Minute

// TimeoutError reports a job that did not finish within the poll timeout.
type TimeoutError struct {
	JobID string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for job %s", e.After, e.JobID)
}

func (e *TimeoutError) Is(target error) bool { return target == services.ErrTimeout }

// JobLostError reports a job the engine has no record of.
type JobLostError struct {
	JobID string
}

func (e *JobLostError) Error() string {
	return "job lost: engine has no record of job " + e.JobID
}

// Poller waits for engine jobs to reach a terminal state.
type Poller struct {
	engine      engine.Engine
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
	logger      *slog.Logger
}

// Wait polls jobID until it finishes. Succeeded jobs return their status;
// failed, lost, and timed out jobs return an error describing why. Up to
// maxFailures consecutive status check errors are tolerated with jittered
// exponential backoff. Errors tagged permanent end the wait at once.
func (p *Poller) Wait(ctx context.Context, jobID string) (engine.Status, error) {
	deadline := p.now().Add(p.timeout)
	failures := 0
	for {
		status, err := p.engine.Poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return engine.Status{}, ctx.Err()
			}
			if services.Permanent(err) {
				return engine.Status{}, fmt.Errorf("status check for job %s: %w", jobID, err)
			}
			failures++
			if failures > p.maxFailures {
				return engine.Status{}, fmt.Errorf("status check failed %d times for job %s: %w", failures, jobID, err)
			}
			remaining := deadline.Sub(p.now())
			if remaining <= 0 {
				return engine.Status{}, &TimeoutError{JobID: jobID, After: p.timeout}
			}
			delay := min(p.backoff(failures), remaining)
			logging.WarnWithContext(p.logger, "job status check failed; retrying", "poll_retry",
				logging.String(logging.FieldJobID, jobID),
				logging.Int("attempt", failures),
				logging.Duration("retry_in", delay),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check engine connectivity"),
				logging.String(logging.FieldImpact, "job result delayed"),
			)
			if err := p.sleep(ctx, delay); err != nil {
				return engine.Status{}, err
			}
			if !p.now().Before(deadline) {
				return engine.Status{}, &TimeoutError{JobID: jobID, After: p.timeout}
			}
			continue
		}
		failures = 0

		switch status.State {
		case engine.StateSucceeded:
			if len(status.Artifacts) == 0 {
				return status, fmt.Errorf("job %s succeeded without artifacts", jobID)
			}
			return status, nil
		case engine.StateFailed:
			return status, &engine.JobError{JobID: jobID, Message: status.Message}
		case engine.StateUnknown:
			return status, &JobLostError{JobID: jobID}
		}

		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			return status, &TimeoutError{JobID: jobID, After: p.timeout}
		}
		if err := p.sleep(ctx, min(p.interval, remaining)); err != nil {
			return status, err
		}
	}
}

// backoff doubles the poll interval per consecutive failure with up to 25%
// jitter.
func (p *Poller) backoff(failures int) time.Duration {
	delay := p.interval
	for i := 1; i < failures && delay < maxStatusBackoff; i++ {
		delay *= 2
	}
	delay = min(delay, maxStatusBackoff)
	if delay <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/4 + 1))
	return delay + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
