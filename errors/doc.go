// Package errors provides standardized error handling patterns for Edulure processes.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, non-retryable), and Fatal (unrecoverable, stop processing).
// The runtime core uses the classes to decide whether an infrastructure start
// attempt is worth retrying and how a failure is reported in readiness state.
//
// # Quick Start
//
// Wrap third-party errors with component context:
//
//	if err := db.PingContext(ctx); err != nil {
//	    return errors.WrapTransient(err, "database", "Connect", "connectivity probe")
//	}
//
// Check classification:
//
//	if errors.IsFatal(err) {
//	    return err
//	}
//
// The wrappers keep the original error reachable through errors.Is and
// errors.As, so callers can still match sentinel values.
package errors
