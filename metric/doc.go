// Package metric provides the Prometheus registry shared by Edulure runtime processes.
//
// A MetricsRegistry is created per process. It registers the lifecycle metrics
// (component readiness, start attempts, cleanup failures, shutdowns, drain
// force-closes, NATS connectivity) together with the Go runtime and process
// collectors. Handler exposes everything in the Prometheus format; the probe
// server mounts it at /metrics.
//
// Keeping readiness gauges in sync with a tracker:
//
//	registry := metric.NewMetricsRegistry()
//	tracker.OnChange(registry.CoreMetrics().ObserveReadiness)
//
// Component statuses are exported as numbers: 0=pending, 1=ready, 2=degraded,
// 3=maintenance, 4=failed.
//
// Process-specific metrics go through the MetricsRegistrar methods, which reject
// duplicate registrations with an invalid-class error:
//
//	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Namespace: "edulure",
//	    Subsystem: "worker",
//	    Name:      "jobs_total",
//	}, []string{"job", "result"})
//	err := registry.RegisterCounterVec("edulure-worker", "jobs_total", jobs)
package metric
