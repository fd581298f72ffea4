// Package retry provides bounded retry with linear backoff for component startup.
//
// # Overview
//
// Execute runs an operation up to Attempts times. After failed attempt n it waits
// Delay*n before the next one, so the waits grow linearly. No wait follows the final
// attempt, and the error of the final attempt is returned unchanged.
//
// Attempts and Delay fall back to process-wide defaults (see SetDefaults) when unset.
// Attempts is capped at MaxAttempts and Delay is clamped to [MinDelay, MaxDelay].
//
// # Progress Reporting
//
// A ProgressFunc receives "Retrying <name> (<attempt>/<total>)" after every failure
// that will be retried. The bootstrap orchestrator uses it to mark the component
// pending in the readiness tracker:
//
//	result, err := retry.Execute(ctx, "redis", connect, retry.Options{
//	    Attempts: 5,
//	    Delay:    250 * time.Millisecond,
//	    Progress: func(component, message string) {
//	        tracker.MarkPending(component, message, nil)
//	    },
//	})
//
// # Presets
//
//   - Quick(): 10 attempts, 50ms base delay
//   - Persistent(): MaxAttempts attempts, 500ms base delay
//
// # Stopping Early
//
// Wrap an error with NonRetryable to stop immediately. Cancelling the context during
// a backoff wait returns the last attempt error joined with the context error.
//
// # Testing
//
// Options.Clock accepts a clock.Fake, which makes backoff waits instantaneous and
// records them for assertions.
package retry
