package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/orbas1/edulure/readiness"
)

// Metrics contains the lifecycle metrics shared by every runtime process
type Metrics struct {
	ComponentStatus   *prometheus.GaugeVec
	ComponentReady    *prometheus.GaugeVec
	ServiceReady      *prometheus.GaugeVec
	StartAttempts     *prometheus.CounterVec
	StartDuration     *prometheus.HistogramVec
	CleanupFailures   *prometheus.CounterVec
	Shutdowns         *prometheus.CounterVec
	DrainForcedCloses *prometheus.CounterVec
	AsyncErrors       *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the lifecycle metric collectors
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "edulure",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component readiness status (0=pending, 1=ready, 2=degraded, 3=maintenance, 4=failed)",
			},
			[]string{"service", "component"},
		),

		ComponentReady: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "edulure",
				Subsystem: "component",
				Name:      "ready",
				Help:      "Component readiness (0=not ready, 1=ready)",
			},
			[]string{"service", "component"},
		),

		ServiceReady: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "edulure",
				Subsystem: "service",
				Name:      "ready",
				Help:      "Aggregated service readiness (0=not ready, 1=ready)",
			},
			[]string{"service"},
		),

		StartAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edulure",
				Subsystem: "component",
				Name:      "start_attempts_total",
				Help:      "Total number of component start attempts",
			},
			[]string{"component", "result"},
		),

		StartDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "edulure",
				Subsystem: "component",
				Name:      "start_duration_seconds",
				Help:      "Time taken to start a component including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component"},
		),

		CleanupFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edulure",
				Subsystem: "shutdown",
				Name:      "cleanup_failures_total",
				Help:      "Total number of cleanup tasks that failed during shutdown or rollback",
			},
			[]string{"service", "task"},
		),

		Shutdowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edulure",
				Subsystem: "shutdown",
				Name:      "total",
				Help:      "Total number of shutdowns by reason",
			},
			[]string{"service", "reason"},
		),

		DrainForcedCloses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edulure",
				Subsystem: "drain",
				Name:      "forced_closes_total",
				Help:      "Connections force-closed after the drain deadline",
			},
			[]string{"service"},
		),

		AsyncErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edulure",
				Subsystem: "errors",
				Name:      "async_total",
				Help:      "Unhandled asynchronous failures reported to the runtime",
			},
			[]string{"service", "type"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "edulure",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "edulure",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ComponentStatus,
		c.ComponentReady,
		c.ServiceReady,
		c.StartAttempts,
		c.StartDuration,
		c.CleanupFailures,
		c.Shutdowns,
		c.DrainForcedCloses,
		c.AsyncErrors,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

// StatusCode maps a readiness status to the value exported by ComponentStatus
func StatusCode(status readiness.Status) float64 {
	switch status {
	case readiness.StatusReady:
		return 1
	case readiness.StatusDegraded:
		return 2
	case readiness.StatusMaintenance:
		return 3
	case readiness.StatusFailed:
		return 4
	default:
		return 0
	}
}

// ObserveReadiness records a readiness snapshot. Register it with Tracker.OnChange.
func (c *Metrics) ObserveReadiness(snapshot readiness.Snapshot) {
	for _, component := range snapshot.Components {
		c.ComponentStatus.WithLabelValues(snapshot.Service, component.Name).Set(StatusCode(component.Status))
		c.ComponentReady.WithLabelValues(snapshot.Service, component.Name).Set(boolValue(component.Ready))
	}
	c.ServiceReady.WithLabelValues(snapshot.Service).Set(boolValue(snapshot.Ready))
}

// RecordStartAttempt increments the start attempt counter
func (c *Metrics) RecordStartAttempt(component string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.StartAttempts.WithLabelValues(component, result).Inc()
}

// RecordStartDuration records how long a component took to start
func (c *Metrics) RecordStartDuration(component string, duration time.Duration) {
	c.StartDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// RecordCleanupFailure increments the cleanup failure counter
func (c *Metrics) RecordCleanupFailure(service, task string) {
	c.CleanupFailures.WithLabelValues(service, task).Inc()
}

// RecordShutdown increments the shutdown counter
func (c *Metrics) RecordShutdown(service, reason string) {
	c.Shutdowns.WithLabelValues(service, reason).Inc()
}

// RecordForcedCloses adds connections force-closed during a drain
func (c *Metrics) RecordForcedCloses(service string, n int) {
	c.DrainForcedCloses.WithLabelValues(service).Add(float64(n))
}

// RecordAsyncError increments the asynchronous failure counter
func (c *Metrics) RecordAsyncError(service, errorType string) {
	c.AsyncErrors.WithLabelValues(service, errorType).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolValue(connected))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
