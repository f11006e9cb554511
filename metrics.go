package redipubsub

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the Prometheus instrumentation surface for a Conn. A nil
// *Metrics (the zero value of Conn without WithMetrics) disables
// instrumentation entirely.
type Metrics struct {
	confirmedTargets  prometheus.Gauge
	pendingTargets    prometheus.Gauge
	reconnects        prometheus.Counter
	wireCommandsSent  prometheus.Counter
	messagesDelivered prometheus.Counter
}

// NewMetrics builds and registers a Metrics set on reg. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer, connID string) *Metrics {
	labels := prometheus.Labels{"conn": connID}
	m := &Metrics{
		confirmedTargets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "redipubsub",
			Name:        "confirmed_targets",
			Help:        "Targets currently confirmed subscribed on the wire.",
			ConstLabels: labels,
		}),
		pendingTargets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "redipubsub",
			Name:        "pending_targets",
			Help:        "Targets awaiting subscribe confirmation or a live connection.",
			ConstLabels: labels,
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "redipubsub",
			Name:        "reconnects_total",
			Help:        "Successful reconnects since start.",
			ConstLabels: labels,
		}),
		wireCommandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "redipubsub",
			Name:        "wire_commands_sent_total",
			Help:        "(P)SUBSCRIBE/(P)UNSUBSCRIBE pipelines written to the socket.",
			ConstLabels: labels,
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "redipubsub",
			Name:        "messages_delivered_total",
			Help:        "message/pmessage events handed to subscriber endpoints.",
			ConstLabels: labels,
		}),
	}
	for _, c := range []prometheus.Collector{
		m.confirmedTargets, m.pendingTargets, m.reconnects,
		m.wireCommandsSent, m.messagesDelivered,
	} {
		reg.Register(c) //nolint:errcheck // duplicate registration is not fatal here
	}
	return m
}
