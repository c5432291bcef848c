package websocket

import (
	"context"
	"log/slog"
	"time"
)

// heartbeatSweep runs on the actor at every heartbeat tick. A connection that
// has not answered the previous ping is terminated without a close handshake;
// every other open connection is marked not-alive and pinged, and its index
// state gets a fresh TTL.
func (m *Manager) heartbeatSweep() {
	start := time.Now()
	defer func() {
		m.metrics.HeartbeatSweepSeconds.Observe(time.Since(start).Seconds())
	}()

	live := make([]string, 0, m.registry.len())
	for _, id := range m.registry.ids() {
		conn, ok := m.registry.get(id)
		if !ok || conn.State() != StateOpen {
			continue
		}

		if !conn.alive.Swap(false) {
			m.metrics.Terminations.WithLabelValues("heartbeat").Inc()
			m.apply(conn, EventTerminate, reasonHeartbeat)
			continue
		}

		conn.requestPing()
		live = append(live, id)
	}

	m.touch(live)
}

// touch refreshes the index TTL of live connections off the actor. Skipped
// during shutdown, when the index state is being removed anyway.
func (m *Manager) touch(ids []string) {
	if len(ids) == 0 || m.stopping.Load() {
		return
	}

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		if _, err := m.index.Touch(ctx, ids); err != nil {
			m.metrics.TouchFailures.Inc()
			slog.ErrorContext(ctx, "Failed to refresh subscription TTL", "connections", len(ids), "error", err)
		}
	}()
}
