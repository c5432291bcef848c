package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConnectionLimitMetrics counts WebSocket upgrades rejected before accept.
type ConnectionLimitMetrics struct {
	Rejected *prometheus.CounterVec
}

// NewConnectionLimitMetrics creates and registers connection limit metrics on the given registry.
func NewConnectionLimitMetrics(reg prometheus.Registerer) *ConnectionLimitMetrics {
	m := &ConnectionLimitMetrics{
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejected_connections_total",
			Help:      "Total number of WebSocket upgrades rejected, by limit.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.Rejected)
	return m
}
