package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/topicrelay/internal/adapter/memory"
	redisadapter "github.com/pscheid92/topicrelay/internal/adapter/redis"
	"github.com/pscheid92/topicrelay/internal/platform/config"
	wsmanager "github.com/pscheid92/topicrelay/internal/websocket"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "0123456789abcdef"

type serverOption func(*config.Config, *Deps)

func withHealthChecks(checks ...HealthCheck) serverOption {
	return func(_ *config.Config, d *Deps) { d.HealthChecks = checks }
}

func withConfig(mutate func(*config.Config)) serverOption {
	return func(c *config.Config, _ *Deps) { mutate(c) }
}

func withManager(m socketManager) serverOption {
	return func(_ *config.Config, d *Deps) { d.Manager = m }
}

func withNodes(n NodeLister) serverOption {
	return func(_ *config.Config, d *Deps) { d.Nodes = n }
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		NodeID:                  "node-test",
		InternalAPIKey:          testAPIKey,
		SendBufferSize:          16,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     10,
		ConnectionRate:          100,
		ConnectionBurst:         100,
	}
}

// newTestServer wires a Server to an in-memory manager unless an option
// supplies another one.
func newTestServer(t *testing.T, opts ...serverOption) *Server {
	t.Helper()

	cfg := testConfig()
	var deps Deps
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	if deps.Manager == nil {
		mgr, err := wsmanager.NewManager(context.Background(), wsmanager.Config{}, memory.NewTopicIndex(), memory.NewBus(), clockwork.NewFakeClock(), nil)
		require.NoError(t, err)
		t.Cleanup(mgr.Stop)
		deps.Manager = mgr
	}

	return NewServer(cfg, deps)
}

// startTestServer serves srv over real TCP and returns a WebSocket dialer for /ws.
func startTestServer(t *testing.T, srv *Server) (*httptest.Server, func(header http.Header) (*gws.Conn, error)) {
	t.Helper()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	dial := func(header http.Header) (*gws.Conn, error) {
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
		conn, resp, err := gws.DefaultDialer.Dial(url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, &dialError{err: err, status: statusOf(resp)}
		}
		t.Cleanup(func() { _ = conn.Close() })
		return conn, nil
	}
	return ts, dial
}

type dialError struct {
	err    error
	status int
}

func (e *dialError) Error() string { return e.err.Error() }

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

type stubNodes struct {
	nodes []redisadapter.NodeInfo
	err   error
}

func (s *stubNodes) ActiveNodes(context.Context) ([]redisadapter.NodeInfo, error) {
	return s.nodes, s.err
}
