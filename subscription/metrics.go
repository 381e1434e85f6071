package subscription

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts feed activity for the /metrics endpoint.
type Metrics struct {
	delivered  *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	reconnects *prometheus.CounterVec
}

// NewMetrics registers the feed counters on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_feed_events_delivered_total",
			Help: "Change events delivered to subscribers.",
		}, []string{"entity"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_feed_events_dropped_total",
			Help: "Change events dropped before delivery.",
		}, []string{"entity", "reason"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_feed_reconnects_total",
			Help: "Feed connections lost and re-established.",
		}, []string{"entity"}),
	}
	if reg != nil {
		reg.MustRegister(m.delivered, m.dropped, m.reconnects)
	}
	return m
}

func (m *Metrics) recordDelivered(entity string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(entity).Inc()
}

func (m *Metrics) recordDropped(entity, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(entity, reason).Inc()
}

func (m *Metrics) recordReconnect(entity string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(entity).Inc()
}
