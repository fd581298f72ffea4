package readiness

import (
	"context"
	"errors"
)

// Kind discriminates the variants of an Outcome
type Kind int

// Outcome kinds. KindUnset is the zero value and is treated as ready.
const (
	KindUnset Kind = iota
	KindReady
	KindDegraded
	KindDisabled
	KindFailed
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindUnset:
		return "unset"
	case KindReady:
		return "ready"
	case KindDegraded:
		return "degraded"
	case KindDisabled:
		return "disabled"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StopFunc releases whatever a successful start acquired
type StopFunc func(ctx context.Context) error

// Outcome is the structured result of starting a component.
// Build it with Ready, Degraded, Disabled or Failed.
type Outcome struct {
	Kind    Kind
	Message string
	Details Details
	Err     error
	// Stop, when set, overrides the static stop handler of the component.
	Stop StopFunc
}

// Ready reports a fully operational component.
func Ready(message string) Outcome {
	return Outcome{Kind: KindReady, Message: message}
}

// Degraded reports a component running with reduced capability.
func Degraded(message string) Outcome {
	return Outcome{Kind: KindDegraded, Message: message}
}

// Disabled reports a component that was intentionally not started,
// typically because it is not configured for this process.
func Disabled(message string) Outcome {
	return Outcome{Kind: KindDisabled, Message: message}
}

// Failed reports a component that could not be started.
func Failed(err error) Outcome {
	if err == nil {
		err = errors.New("start failed")
	}
	return Outcome{Kind: KindFailed, Message: err.Error(), Err: err}
}

// WithStop returns a copy of the outcome carrying its own stop handler.
func (o Outcome) WithStop(fn StopFunc) Outcome {
	o.Stop = fn
	return o
}

// WithDetails returns a copy of the outcome with details attached.
func (o Outcome) WithDetails(details Details) Outcome {
	o.Details = details
	return o
}

// IsFailure reports whether the outcome is the Failed variant.
func (o Outcome) IsFailure() bool {
	return o.Kind == KindFailed
}
