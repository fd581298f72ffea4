package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orbas1/edulure/pkg/clock"
)

// Bounds applied to every execution
const (
	MaxAttempts = 20
	MinDelay    = time.Millisecond
	MaxDelay    = 60 * time.Second
)

var (
	defaultsMu      sync.RWMutex
	defaultAttempts = 5
	defaultDelay    = time.Second
)

// SetDefaults replaces the attempts and delay used when Options leave them unset.
// Non-positive values keep the current default.
func SetDefaults(attempts int, delay time.Duration) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	if attempts > 0 {
		defaultAttempts = min(attempts, MaxAttempts)
	}
	if delay > 0 {
		defaultDelay = clampDelay(delay)
	}
}

// Defaults returns the attempts and delay used when Options leave them unset
func Defaults() (int, time.Duration) {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	return defaultAttempts, defaultDelay
}

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// ProgressFunc is told about every failed attempt of a component
type ProgressFunc func(component, message string)

// Options configures a single execution
type Options struct {
	Attempts int           // Total attempts, 0 uses the configured default
	Delay    time.Duration // Base delay, multiplied by the attempt number
	// Component names the readiness component reported to Progress.
	// Defaults to the execution name.
	Component string
	Progress  ProgressFunc
	OnRetry   func(attempt, total int, err error)
	Clock     clock.Clock
	Logger    *slog.Logger
}

func (o Options) normalize() Options {
	attempts, delay := Defaults()
	if o.Attempts <= 0 {
		o.Attempts = attempts
	}
	if o.Attempts > MaxAttempts {
		o.Attempts = MaxAttempts
	}
	if o.Delay <= 0 {
		o.Delay = delay
	}
	o.Delay = clampDelay(o.Delay)
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func clampDelay(d time.Duration) time.Duration {
	if d < MinDelay {
		return MinDelay
	}
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

// Quick returns options for fast retries of cheap local dependencies
func Quick() Options {
	return Options{
		Attempts: 10,
		Delay:    50 * time.Millisecond,
	}
}

// Persistent returns options for critical resources that may take a while to appear
func Persistent() Options {
	return Options{
		Attempts: MaxAttempts,
		Delay:    500 * time.Millisecond,
	}
}

// Execute runs fn until it succeeds or the attempts are exhausted.
// After failed attempt n it waits Delay*n; there is no wait after the last attempt.
// Progress is told about every failure, including the last one.
// The error of the last attempt is returned unchanged, also when ctx is
// cancelled during a wait.
func Execute[T any](
	ctx context.Context,
	name string,
	fn func(ctx context.Context, attempt, total int) (T, error),
	opts Options,
) (T, error) {
	opts = opts.normalize()
	component := opts.Component
	if component == "" {
		component = name
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		result, err := fn(ctx, attempt, opts.Attempts)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return zero, err
		}

		if opts.Progress != nil {
			opts.Progress(component, fmt.Sprintf("Retrying %s (%d/%d)", name, attempt, opts.Attempts))
		}

		// Don't sleep after the last attempt
		if attempt == opts.Attempts {
			break
		}

		opts.Logger.Warn("Attempt failed, retrying",
			"name", name,
			"attempt", attempt,
			"total", opts.Attempts,
			"error", err)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, opts.Attempts, err)
		}

		select {
		case <-ctx.Done():
			opts.Logger.Warn("Retry cancelled",
				"name", name,
				"attempt", attempt,
				"error", lastErr,
				"cause", ctx.Err())
			return zero, lastErr
		case <-opts.Clock.After(opts.Delay * time.Duration(attempt)):
		}
	}

	opts.Logger.Error("All attempts failed", "name", name, "attempts", opts.Attempts, "error", lastErr)
	return zero, lastErr
}

// Do is Execute for operations without a result
func Do(ctx context.Context, name string, fn func(ctx context.Context, attempt, total int) error, opts Options) error {
	_, err := Execute(ctx, name, func(ctx context.Context, attempt, total int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt, total)
	}, opts)
	return err
}
