// Package retry implements the bounded retry loop shared by the HTTP fetcher
// and the storage gateway.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Action tells the retry loop what to do with a failed attempt.
type Action int

const (
	// ActionRetry retries the operation after the backoff interval.
	ActionRetry Action = iota
	// ActionFatal stops immediately and returns the error unchanged.
	ActionFatal
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFatal:
		return "fatal"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// BackoffFunc returns the wait after the failed attempt with the given
// 0-based index.
type BackoffFunc func(attempt int) time.Duration

// Exponential returns base * 2^attempt.
func Exponential(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		if attempt > 30 {
			attempt = 30
		}
		return base * time.Duration(1<<attempt)
	}
}

// Constant always waits d.
func Constant(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d honoring ctx cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Policy describes how a call site retries.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff computes the wait after a failed attempt. Defaults to no wait.
	Backoff BackoffFunc

	// Classify decides whether a failure is worth retrying.
	// Defaults to Classify.
	Classify func(error) Action

	// Sleep replaces the real sleep, mostly in tests.
	Sleep SleepFunc

	// OnFailure is called after every failed attempt that will be retried
	// or that exhausts the policy. wait is zero on the last attempt.
	OnFailure func(attempt int, err error, wait time.Duration)
}

// New returns a Policy with exponential backoff.
func New(maxAttempts int, base time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     Exponential(base),
	}
}

// Do runs op until it succeeds, fails terminally or runs out of attempts.
// The attempt index passed to op starts at 0.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = Classify
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if classify(err) == ActionFatal {
			return err
		}

		last := attempt == attempts-1
		var wait time.Duration
		if !last && p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if p.OnFailure != nil {
			p.OnFailure(attempt, err, wait)
		}
		if last {
			break
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Terminal marks err as not worth retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string  { return e.err.Error() }
func (e *terminalError) Unwrap() error  { return e.err }
func (e *terminalError) Terminal() bool { return true }

// IsTerminal reports whether any error in err's chain declares itself
// terminal through a Terminal() bool method.
func IsTerminal(err error) bool {
	var t interface{ Terminal() bool }
	return errors.As(err, &t) && t.Terminal()
}

// Classify is the default classifier: terminal errors and context
// cancellation are fatal, everything else is retried.
func Classify(err error) Action {
	if IsTerminal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ActionFatal
	}
	return ActionRetry
}
