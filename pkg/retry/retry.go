// pkg/retry/retry.go

package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	cerr "github.com/cockroachdb/errors"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/kaiju_err"
)

// Status is the terminal state of one step.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped-idempotent"
	StatusExhausted Status = "failed-retryable-exhausted"
	StatusFatal     Status = "failed-fatal"
	StatusNotRun    Status = "not-run"
)

// Failed reports whether the status ends the plan.
func (s Status) Failed() bool {
	return s == StatusExhausted || s == StatusFatal
}

// Done reports whether dependents may run.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusSkipped
}

// Policy bounds retries for one step.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration // first wait, doubled per attempt
	MaxDelay  time.Duration // ceiling for any single wait
	Timeout   time.Duration // per attempt; 0 means none
}

// DefaultPolicy is the backoff used for real runs.
func DefaultPolicy(attempts int, timeout time.Duration) Policy {
	return Policy{Attempts: attempts, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, Timeout: timeout}
}

// Satisfied is an idempotency predicate.
type Satisfied func(ctx context.Context) (bool, error)

// Action performs the step once.
type Action func(ctx context.Context, attempt int) error

// Result is the outcome of Run.
type Result struct {
	Status   Status
	Attempts int
	Err      error
	Duration time.Duration
}

// Controller runs a single step with the idempotency gate and backoff.
type Controller struct {
	Policy Policy
	// Recover runs between a failed attempt and the next one.
	Recover func(ctx context.Context) error
	// OnRetry is told about every failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Run checks satisfied once, then runs action until it succeeds, fails
// fatally or the attempts are used up. Only transient errors are retried.
// Cancelling ctx stops further attempts and backoff waits; an attempt that
// already started is never cancelled by ctx, only by its own timeout.
func (c Controller) Run(ctx context.Context, satisfied Satisfied, action Action) Result {
	start := time.Now()
	res := Result{}
	finish := func(s Status, err error) Result {
		res.Status, res.Err, res.Duration = s, err, time.Since(start)
		return res
	}

	if satisfied != nil {
		if ok, err := satisfied(context.WithoutCancel(ctx)); err == nil && ok {
			return finish(StatusSkipped, nil)
		}
	}

	attempts := max(1, c.Policy.Attempts)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Policy.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.Policy.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	var lastErr error
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		res.Attempts++
		attemptCtx := context.WithoutCancel(ctx)
		if c.Policy.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(attemptCtx, c.Policy.Timeout)
			defer cancel()
		}
		err := action(attemptCtx, res.Attempts)
		if err != nil && cerr.Is(attemptCtx.Err(), context.DeadlineExceeded) && !kaiju_err.IsRetryable(err) {
			err = kaiju_err.NewTransientError("step timed out", err)
		}
		lastErr = err
		if err != nil && !kaiju_err.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if c.OnRetry != nil {
			c.OnRetry(res.Attempts, err, wait)
		}
		if c.Recover != nil {
			_ = c.Recover(context.WithoutCancel(ctx))
		}
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx), notify)
	switch {
	case err == nil:
		return finish(StatusSucceeded, nil)
	case lastErr == nil:
		return finish(StatusFatal, kaiju_err.NewFatalError("interrupted before the first attempt", err))
	case !kaiju_err.IsRetryable(lastErr):
		return finish(StatusFatal, lastErr)
	case res.Attempts >= attempts:
		return finish(StatusExhausted, lastErr)
	default:
		return finish(StatusFatal, kaiju_err.NewFatalError("interrupted between attempts", lastErr))
	}
}
