package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for WebSocket connections and topic fanout.
type WebSocketMetrics struct {
	ActiveConnections     prometheus.Gauge
	ConnectionsTotal      prometheus.Counter
	ConnectionDuration    prometheus.Histogram
	MessagesPublished     prometheus.Counter
	MessagesDelivered     prometheus.Counter
	DeliveryFailures      *prometheus.CounterVec
	Terminations          *prometheus.CounterVec
	RelayDropped          *prometheus.CounterVec
	ActionsTotal          *prometheus.CounterVec
	BulkCleanupDuration   prometheus.Histogram
	HeartbeatSweepSeconds prometheus.Histogram
	TouchFailures         prometheus.Counter
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of WebSocket connections held by this node.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Total number of accepted WebSocket connections.",
		}),
		ConnectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of WebSocket connections in seconds.",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 14400},
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_published_total",
			Help:      "Total number of topic messages published to the relay by this node.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_delivered_total",
			Help:      "Total number of relayed frames queued to local sockets.",
		}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "delivery_failures_total",
			Help:      "Total number of failed socket writes, by reason.",
		}, []string{"reason"}),
		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "terminations_total",
			Help:      "Total number of forced connection terminations, by reason.",
		}, []string{"reason"}),
		RelayDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Total number of relayed messages dropped before fanout, by reason.",
		}, []string{"reason"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "actions_total",
			Help:      "Total number of inbound client frames, by response type.",
		}, []string{"response"}),
		BulkCleanupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "bulk_cleanup_duration_seconds",
			Help:      "Duration of shutdown bulk deregistration.",
			Buckets:   prometheus.DefBuckets,
		}),
		HeartbeatSweepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "heartbeat_sweep_duration_seconds",
			Help:      "Duration of one heartbeat sweep over the local registry.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		TouchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "ttl_refresh_failures_total",
			Help:      "Heartbeat TTL refreshes of live subscriptions that failed.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections, m.ConnectionsTotal, m.ConnectionDuration,
		m.MessagesPublished, m.MessagesDelivered, m.DeliveryFailures,
		m.Terminations, m.RelayDropped, m.ActionsTotal,
		m.BulkCleanupDuration, m.HeartbeatSweepSeconds, m.TouchFailures,
	)
	return m
}
