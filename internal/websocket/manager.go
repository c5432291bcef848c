// Package websocket holds the per-node half of the topic relay: the local
// connection registry, connection lifecycle, heartbeat and fanout. The
// cross-node half (topic index and relay channel) is reached through the
// domain interfaces.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/topicrelay/internal/adapter/metrics"
	"github.com/pscheid92/topicrelay/internal/domain"
	apperrors "github.com/pscheid92/topicrelay/internal/platform/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	storeTimeout  = 2 * time.Second
	stopTimeout   = 10 * time.Second
	cmdBufferSize = 256

	shutdownReason = "Server shutting down"
)

const (
	reasonHeartbeat    = "heartbeat timeout"
	reasonSlowConsumer = "slow consumer"
	reasonPeerClosed   = "peer closed"
	reasonReadError    = "read error"
	reasonWriteError   = "write error"
	reasonClosed       = "close handshake done"
)

type Config struct {
	HeartbeatInterval time.Duration
	SendBufferSize    int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 16
	}
	return c
}

type managerCmd interface{ isManagerCmd() }

type baseManagerCmd struct{}

func (baseManagerCmd) isManagerCmd() {}

type registerCmd struct {
	baseManagerCmd
	conn  *Connection
	reply chan error
}

type eventCmd struct {
	baseManagerCmd
	conn   *Connection
	event  Event
	reason string
}

type deliverCmd struct {
	baseManagerCmd
	ids   []string
	frame []byte
}

type snapshotCmd struct {
	baseManagerCmd
	reply chan []string
}

type countCmd struct {
	baseManagerCmd
	reply chan int
}

type stopCmd struct {
	baseManagerCmd
	reason string
}

// Manager is the node's façade over the topic index, the relay channel and
// the sockets it holds. A single actor goroutine owns the registry, applies
// lifecycle transitions and runs the heartbeat sweep.
type Manager struct {
	index   domain.TopicIndex
	relay   domain.Relay
	clock   clockwork.Clock
	metrics *metrics.WebSocketMetrics
	cfg     Config

	cmdCh    chan managerCmd
	registry *registry
	done     chan struct{}

	relaySub    domain.RelaySubscription
	relayOnce   sync.Once
	cleanupOnce sync.Once
	stopOnce    sync.Once
	stopping    atomic.Bool
	pending     sync.WaitGroup
}

// NewManager subscribes to the relay channel and starts the actor. m may be
// nil, in which case metrics go to a private registry.
func NewManager(ctx context.Context, cfg Config, index domain.TopicIndex, relay domain.Relay, clock clockwork.Clock, m *metrics.WebSocketMetrics) (*Manager, error) {
	if m == nil {
		m = metrics.NewWebSocketMetrics(prometheus.NewRegistry())
	}

	mgr := &Manager{
		index:    index,
		relay:    relay,
		clock:    clock,
		metrics:  m,
		cfg:      cfg.withDefaults(),
		cmdCh:    make(chan managerCmd, cmdBufferSize),
		registry: newRegistry(),
		done:     make(chan struct{}),
	}

	sub, err := relay.Subscribe(ctx, mgr.onRelayMessage)
	if err != nil {
		return nil, err
	}
	mgr.relaySub = sub

	go mgr.run()
	return mgr, nil
}

func (m *Manager) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Websocket manager panic recovered", "panic", r)
			m.stopping.Store(true)
			m.closeAll(shutdownReason)
		}
	}()
	defer close(m.done)

	ticker := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.heartbeatSweep()
		case cmd := <-m.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				m.handleRegister(c)
			case eventCmd:
				m.apply(c.conn, c.event, c.reason)
			case deliverCmd:
				m.handleDeliver(c)
			case snapshotCmd:
				c.reply <- m.registry.ids()
			case countCmd:
				c.reply <- m.registry.len()
			case stopCmd:
				m.closeAll(c.reason)
				return
			}
		}
	}
}

// post hands cmd to the actor. It returns false once the actor has exited.
func (m *Manager) post(cmd managerCmd) bool {
	select {
	case m.cmdCh <- cmd:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) handleRegister(c registerCmd) {
	if m.stopping.Load() {
		c.reply <- domain.ErrManagerStopped
		return
	}

	m.registry.add(c.conn)
	m.metrics.ActiveConnections.Inc()
	m.metrics.ConnectionsTotal.Inc()
	m.apply(c.conn, EventAccepted, "")
	c.reply <- nil
}

// apply runs one lifecycle transition. Unknown (state, event) pairs are ignored.
func (m *Manager) apply(conn *Connection, ev Event, reason string) {
	from := conn.State()
	to, ok := nextState(from, ev)
	if !ok {
		return
	}
	conn.setState(to)

	slog.DebugContext(conn.ctx, "Connection state changed", "from", from.String(), "to", to.String(), "event", ev.String())

	switch to {
	case StateClosing:
		m.beginClose(conn)
	case StateClosed:
		m.finishClose(conn, reason)
	}
}

// beginClose writes our close frame off the actor, then reports socket-closed.
func (m *Manager) beginClose(conn *Connection) {
	go func() {
		_ = conn.writeClose(websocket.CloseNormalClosure, "")
		m.post(eventCmd{conn: conn, event: EventSocketClosed, reason: reasonClosed})
	}()
}

func (m *Manager) finishClose(conn *Connection, reason string) {
	conn.shutdown()

	if _, ok := m.registry.get(conn.id); ok {
		m.registry.remove(conn.id)
		m.metrics.ActiveConnections.Dec()
		m.metrics.ConnectionDuration.Observe(m.clock.Since(conn.openedAt).Seconds())
	}

	slog.InfoContext(conn.ctx, "Connection closed", "reason", reason, "local_connections", m.registry.len())

	// Shutdown deregisters every local id in one BulkCleanup instead.
	if m.stopping.Load() {
		return
	}

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()

		ctx, cancel := context.WithTimeout(conn.ctx, storeTimeout)
		defer cancel()

		removed, err := m.index.UnsubscribeAll(ctx, conn.id)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to remove subscriptions of closed connection", "error", err)
			return
		}
		slog.DebugContext(ctx, "Subscriptions removed", "topics", removed)
	}()
}

func (m *Manager) handleDeliver(c deliverCmd) {
	for _, id := range c.ids {
		conn, ok := m.registry.get(id)
		if !ok || conn.State() != StateOpen {
			continue
		}

		if !conn.enqueue(c.frame) {
			m.metrics.DeliveryFailures.WithLabelValues("buffer_full").Inc()
			m.metrics.Terminations.WithLabelValues("slow_consumer").Inc()
			slog.WarnContext(conn.ctx, "Send buffer full, terminating slow consumer")
			m.apply(conn, EventTerminate, reasonSlowConsumer)
			continue
		}
		m.metrics.MessagesDelivered.Inc()
	}
}

// closeAll sends every open socket a close frame with reason, then terminates all of them.
func (m *Manager) closeAll(reason string) {
	conns := make([]*Connection, 0, m.registry.len())
	for _, id := range m.registry.ids() {
		if conn, ok := m.registry.get(id); ok {
			conns = append(conns, conn)
		}
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		if conn.State() != StateOpen {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.writeClose(websocket.CloseNormalClosure, reason)
		}()
	}
	wg.Wait()

	for _, conn := range conns {
		m.apply(conn, EventTerminate, reason)
	}
}

func (m *Manager) onWriteError(conn *Connection, err error) {
	m.metrics.DeliveryFailures.WithLabelValues("write").Inc()
	slog.DebugContext(conn.ctx, "Socket write failed", "error", err)
	m.post(eventCmd{conn: conn, event: EventError, reason: reasonWriteError})
}

// Serve runs one accepted socket until it is closed. The connection is in
// the registry before the first frame is read.
func (m *Manager) Serve(ctx context.Context, socket Socket, remoteAddr string) error {
	conn := newConnection(ctx, uuid.NewString(), remoteAddr, socket, m.clock, m.cfg.SendBufferSize, m.onWriteError)

	reply := make(chan error, 1)
	if !m.post(registerCmd{conn: conn, reply: reply}) {
		conn.shutdown()
		return domain.ErrManagerStopped
	}

	select {
	case err := <-reply:
		if err != nil {
			conn.shutdown()
			return err
		}
	case <-m.done:
		conn.shutdown()
		return domain.ErrManagerStopped
	}

	slog.InfoContext(conn.ctx, "Connection opened", "remote_addr", remoteAddr)

	m.readLoop(conn)

	select {
	case <-conn.closed:
	case <-m.done:
	}
	return nil
}

func (m *Manager) readLoop(conn *Connection) {
	for {
		_, data, err := conn.socket.ReadMessage()
		if err != nil {
			ev, reason := EventError, reasonReadError
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				ev, reason = EventCloseFrame, reasonPeerClosed
			} else if conn.State() == StateOpen {
				slog.DebugContext(conn.ctx, "Socket read failed", "error", err)
			}
			m.post(eventCmd{conn: conn, event: ev, reason: reason})
			return
		}

		m.dispatch(conn, data)
	}
}

// Publish stamps payload with the current time and broadcasts it to every
// node. It returns the number of nodes that received it.
func (m *Manager) Publish(ctx context.Context, topic string, payload any) (int64, error) {
	if topic == "" {
		return 0, apperrors.ValidationError("Topic is required")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, apperrors.ValidationError("payload is not JSON encodable").WithContext("error", err.Error())
	}

	data, err := json.Marshal(domain.TopicMessage{
		Topic:     topic,
		Payload:   raw,
		Timestamp: m.clock.Now().UnixMilli(),
	})
	if err != nil {
		return 0, apperrors.InternalError("failed to encode topic message", err)
	}

	receivers, err := m.relay.Publish(ctx, data)
	if err != nil {
		return 0, err
	}

	m.metrics.MessagesPublished.Inc()
	slog.DebugContext(ctx, "Message published", "topic", topic, "receivers", receivers)
	return receivers, nil
}

// onRelayMessage runs on the relay listener for every message, including our own.
func (m *Manager) onRelayMessage(ctx context.Context, payload []byte) {
	var msg domain.TopicMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Topic == "" {
		m.metrics.RelayDropped.WithLabelValues("decode").Inc()
		slog.WarnContext(ctx, "Dropping undecodable relay message", "error", err, "bytes", len(payload))
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	ids, err := m.index.Subscribers(storeCtx, msg.Topic)
	if err != nil {
		m.metrics.RelayDropped.WithLabelValues("store").Inc()
		slog.ErrorContext(ctx, "Dropping relay message, subscriber lookup failed", "topic", msg.Topic, "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	m.post(deliverCmd{ids: ids, frame: payload})
}

func (m *Manager) SubscribeToTopic(ctx context.Context, connID, topic string) (bool, error) {
	return m.index.Subscribe(ctx, connID, topic)
}

func (m *Manager) UnsubscribeFromTopic(ctx context.Context, connID, topic string) (bool, error) {
	return m.index.Unsubscribe(ctx, connID, topic)
}

func (m *Manager) UnsubscribeFromAllTopics(ctx context.Context, connID string) (int, error) {
	return m.index.UnsubscribeAll(ctx, connID)
}

func (m *Manager) ClientTopics(ctx context.Context, connID string) ([]string, error) {
	return m.index.ClientTopics(ctx, connID)
}

func (m *Manager) IsClientSubscribed(ctx context.Context, connID, topic string) (bool, error) {
	return m.index.IsSubscribed(ctx, connID, topic)
}

func (m *Manager) TopicSubscriberCount(ctx context.Context, topic string) (int64, error) {
	return m.index.SubscriberCount(ctx, topic)
}

func (m *Manager) TopicCount(ctx context.Context) (int64, error) {
	return m.index.TopicCount(ctx)
}

func (m *Manager) TopicNames(ctx context.Context) ([]string, error) {
	return m.index.TopicNames(ctx)
}

// ConnectionCount returns the number of sockets held by this node.
func (m *Manager) ConnectionCount() int {
	reply := make(chan int, 1)
	if !m.post(countCmd{reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-m.done:
		return 0
	}
}

func (m *Manager) connectionIDs() []string {
	reply := make(chan []string, 1)
	if !m.post(snapshotCmd{reply: reply}) {
		return nil
	}
	select {
	case ids := <-reply:
		return ids
	case <-m.done:
		return nil
	}
}

func (m *Manager) detachRelay(ctx context.Context) {
	m.relayOnce.Do(func() {
		if err := m.relaySub.Unsubscribe(ctx); err != nil {
			slog.ErrorContext(ctx, "Failed to unsubscribe from relay channel", "error", err)
		}
	})
}

// Cleanup runs at shutdown: it leaves the relay channel, then removes every
// local connection from the topic index in one bulk call. Failures are only
// logged. New connections are refused from here on.
func (m *Manager) Cleanup(ctx context.Context) {
	m.cleanupOnce.Do(func() {
		m.stopping.Store(true)
		m.detachRelay(ctx)

		ids := m.connectionIDs()
		start := time.Now()
		removed, err := m.index.BulkCleanup(ctx, ids)
		m.metrics.BulkCleanupDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			slog.ErrorContext(ctx, "Bulk cleanup failed", "connections", len(ids), "error", err)
			return
		}
		slog.InfoContext(ctx, "Bulk cleanup done", "connections", len(ids), "subscriptions", removed)
	})
}

// Stop closes every socket with a "Server shutting down" close frame and
// stops the actor. Blocks until the actor exits or the stop timeout passes.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.stopping.Store(true)

		if m.post(stopCmd{reason: shutdownReason}) {
			timer := m.clock.NewTimer(stopTimeout)
			defer timer.Stop()

			select {
			case <-m.done:
				slog.Info("Websocket manager stopped gracefully")
			case <-timer.Chan():
				slog.Warn("Websocket manager stop timeout exceeded", "timeout", stopTimeout)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		m.detachRelay(ctx)
		m.pending.Wait()
	})
}
