// Package readiness tracks per-component readiness state for a runtime process
// and derives the snapshot served by the readiness probe.
package readiness

import (
	"time"

	"github.com/orbas1/edulure/errors"
)

// Status is the readiness state of a single component
type Status string

// Component statuses
const (
	StatusPending     Status = "pending"
	StatusReady       Status = "ready"
	StatusDegraded    Status = "degraded"
	StatusMaintenance Status = "maintenance"
	StatusFailed      Status = "failed"
)

// IsReady reports whether a component in this status can serve traffic.
// Degraded components still count as ready.
func (s Status) IsReady() bool {
	return s == StatusReady || s == StatusDegraded
}

// Details carries free-form diagnostic data attached to a component state
type Details map[string]any

// ErrorInfo is the serialized form of an error recorded against a component
type ErrorInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// stackTracer is implemented by errors that can report where they originated.
type stackTracer interface {
	Stack() string
}

func newErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{
		Name:    errors.TypeName(err),
		Message: err.Error(),
	}
	if st, ok := err.(stackTracer); ok {
		info.Stack = st.Stack()
	}
	return info
}

// ComponentState is the readiness state of a single component
type ComponentState struct {
	Name      string     `json:"name"`
	Status    Status     `json:"status"`
	Ready     bool       `json:"ready"`
	Message   string     `json:"message"`
	Details   Details    `json:"details,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (c ComponentState) clone() ComponentState {
	if c.Details != nil {
		details := make(Details, len(c.Details))
		for k, v := range c.Details {
			details[k] = v
		}
		c.Details = details
	}
	if c.Error != nil {
		errCopy := *c.Error
		c.Error = &errCopy
	}
	return c
}

// Snapshot is the aggregated readiness view of a service at a point in time
type Snapshot struct {
	Service    string           `json:"service"`
	Ready      bool             `json:"ready"`
	Components []ComponentState `json:"components"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Component returns the state of the named component within the snapshot.
func (s Snapshot) Component(name string) (ComponentState, bool) {
	for _, c := range s.Components {
		if c.Name == name {
			return c, true
		}
	}
	return ComponentState{}, false
}

// aggregateReady applies the service readiness rule: the component set is
// non-empty, every component is ready, and none is in maintenance.
func aggregateReady(components []ComponentState) bool {
	if len(components) == 0 {
		return false
	}
	for _, c := range components {
		if !c.Ready || c.Status == StatusMaintenance {
			return false
		}
	}
	return true
}
