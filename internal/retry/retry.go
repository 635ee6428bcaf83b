// Package retry wraps transient remote failures in an exponential
// backoff loop. On-device operations never come through here; their
// failures are not transient.
package retry

import (
	"context"
	"time"

	"github.com/calder-ai/modelgate/internal/llm"
)

// Executor replays an operation on transient failure. The budget is
// MaxRetries replays on top of the first attempt; after the i-th
// failed attempt (0-based) it waits BaseDelay * 2^i.
type Executor struct {
	MaxRetries int
	BaseDelay  time.Duration

	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration

	// Classify reports whether an error may be replayed. Nil means
	// llm.Transient.
	Classify func(error) bool

	// Sleep waits for d or until ctx is done. Nil means the real
	// clock; tests inject their own to assert the wait sequence.
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(maxRetries int, base time.Duration) *Executor {
	return &Executor{MaxRetries: maxRetries, BaseDelay: base}
}

// Do runs fn under the executor's budget. Permanent errors propagate
// immediately; once the budget is exhausted the most recent error
// propagates unchanged.
func (e *Executor) Do(ctx context.Context, fn func() error) error {
	_, err := DoValue(ctx, e, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoValue is Do for operations that produce a result.
func DoValue[T any](ctx context.Context, e *Executor, fn func() (T, error)) (T, error) {
	var zero T

	classify := e.Classify
	if classify == nil {
		classify = llm.Transient
	}
	sleep := e.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	var lastErr error
	attempts := e.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, e.delay(attempt-1)); err != nil {
				return zero, lastErr
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !classify(err) {
			return zero, err
		}
	}

	return zero, lastErr
}

// delay returns BaseDelay * 2^failedAttempt, capped at MaxDelay.
func (e *Executor) delay(failedAttempt int) time.Duration {
	d := e.BaseDelay
	for i := 0; i < failedAttempt; i++ {
		d *= 2
		if e.MaxDelay > 0 && d >= e.MaxDelay {
			return e.MaxDelay
		}
	}
	if e.MaxDelay > 0 && d > e.MaxDelay {
		return e.MaxDelay
	}
	return d
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
