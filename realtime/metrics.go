package realtime

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/orbas1/edulure/metric"
)

type hubMetrics struct {
	clients  prometheus.Gauge
	dropped  prometheus.Counter
	messages *prometheus.CounterVec
}

// Instrument registers hub metrics with registry under service
func (h *Hub) Instrument(registry *metric.MetricsRegistry, service string) error {
	clients := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "edulure",
		Subsystem: "realtime",
		Name:      "clients",
		Help:      "Connected websocket clients",
	}, []string{"service"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edulure",
		Subsystem: "realtime",
		Name:      "slow_clients_dropped_total",
		Help:      "Clients disconnected for falling behind",
	}, []string{"service"})
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edulure",
		Subsystem: "realtime",
		Name:      "messages_total",
		Help:      "Websocket messages by direction and result",
	}, []string{"service", "direction", "result"})

	if err := registry.RegisterGaugeVec(service, "realtime_clients", clients); err != nil {
		return err
	}
	if err := registry.RegisterCounterVec(service, "realtime_slow_clients_dropped", dropped); err != nil {
		return err
	}
	if err := registry.RegisterCounterVec(service, "realtime_messages", messages); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = &hubMetrics{
		clients:  clients.WithLabelValues(service),
		dropped:  dropped.WithLabelValues(service),
		messages: messages.MustCurryWith(prometheus.Labels{"service": service}),
	}
	h.metrics.clients.Set(float64(len(h.clients)))
	return nil
}

// observe* helpers are called with h.mu held

func (m *hubMetrics) observeClients(n int) {
	if m != nil {
		m.clients.Set(float64(n))
	}
}

func (m *hubMetrics) observeDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *hubMetrics) observeMessage(direction, result string) {
	if m != nil {
		m.messages.WithLabelValues(direction, result).Inc()
	}
}
