package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/pscheid92/topicrelay/internal/domain"
	"github.com/pscheid92/topicrelay/internal/platform/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFrame(t *testing.T, conn *gws.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func requireDialStatus(t *testing.T, err error, status int) {
	t.Helper()
	var dialErr *dialError
	require.True(t, errors.As(err, &dialErr), "expected dial error, got %v", err)
	assert.Equal(t, status, dialErr.status)
}

func TestWebSocket_RegisterAndReceivePublishedMessage(t *testing.T) {
	srv := newTestServer(t)
	ts, dial := startTestServer(t, srv)

	conn, err := dial(nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"event":"actions","payload":{"action":"register","topic":"news"}}`)))
	var resp domain.ServerResponse
	readFrame(t, conn, &resp)
	require.Equal(t, domain.ResponseRegisterSuccess, resp.Type)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/internal/publish", strings.NewReader(`{"topic":"news","payload":{"headline":"hi"}}`))
	require.NoError(t, err)
	req.Header.Set(apiKeyHeader, testAPIKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var pub publishResponse
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&pub))
	assert.Equal(t, int64(1), pub.Receivers)

	var msg domain.TopicMessage
	readFrame(t, conn, &msg)
	assert.Equal(t, "news", msg.Topic)
	assert.JSONEq(t, `{"headline":"hi"}`, string(msg.Payload))
}

func TestWebSocket_PerIPLimit(t *testing.T) {
	srv := newTestServer(t, withConfig(func(c *config.Config) { c.MaxConnectionsPerIP = 1 }))
	_, dial := startTestServer(t, srv)

	_, err := dial(nil)
	require.NoError(t, err)

	_, err = dial(nil)
	requireDialStatus(t, err, http.StatusTooManyRequests)
}

func TestWebSocket_PerIPLimitUsesForwardedFor(t *testing.T) {
	srv := newTestServer(t, withConfig(func(c *config.Config) { c.MaxConnectionsPerIP = 1 }))
	_, dial := startTestServer(t, srv)

	_, err := dial(http.Header{"X-Forwarded-For": {"203.0.113.7, 10.0.0.1"}})
	require.NoError(t, err)

	_, err = dial(http.Header{"X-Forwarded-For": {"203.0.113.8"}})
	require.NoError(t, err)

	_, err = dial(http.Header{"X-Forwarded-For": {"203.0.113.7"}})
	requireDialStatus(t, err, http.StatusTooManyRequests)
}

func TestWebSocket_GlobalLimit(t *testing.T) {
	srv := newTestServer(t, withConfig(func(c *config.Config) { c.MaxWebSocketConnections = 1 }))
	_, dial := startTestServer(t, srv)

	_, err := dial(http.Header{"X-Forwarded-For": {"198.51.100.1"}})
	require.NoError(t, err)

	_, err = dial(http.Header{"X-Forwarded-For": {"198.51.100.2"}})
	requireDialStatus(t, err, http.StatusServiceUnavailable)
}

func TestWebSocket_LimitReleasedOnClose(t *testing.T) {
	srv := newTestServer(t, withConfig(func(c *config.Config) { c.MaxConnectionsPerIP = 1 }))
	_, dial := startTestServer(t, srv)

	conn, err := dial(nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return srv.limits.Current() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = dial(nil)
	require.NoError(t, err)
}

func TestWebSocket_OriginRejected(t *testing.T) {
	srv := newTestServer(t, withConfig(func(c *config.Config) { c.AppURL = "https://app.example.com" }))
	_, dial := startTestServer(t, srv)

	_, err := dial(http.Header{"Origin": {"https://evil.example.com"}})
	requireDialStatus(t, err, http.StatusForbidden)

	_, err = dial(http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, err)
}
