package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/topicrelay/internal/domain"
)

// handleWebSocket applies the connection limits, upgrades, and hands the
// socket to the manager until it closes.
func (s *Server) handleWebSocket(c echo.Context) error {
	r := c.Request()
	ip := clientIP(r)

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		s.limitMetrics.Rejected.WithLabelValues(string(reason)).Inc()
		slog.WarnContext(r.Context(), "WebSocket connection rejected", "reason", reason, "remote_ip", ip)

		status := http.StatusTooManyRequests
		if reason == LimitReasonGlobal {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, map[string]string{"error": string(reason)})
	}
	defer s.limits.Release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		slog.DebugContext(r.Context(), "WebSocket upgrade failed", "error", err, "remote_ip", ip)
		return nil
	}

	if err := s.manager.Serve(r.Context(), conn, ip); err != nil {
		if errors.Is(err, domain.ErrManagerStopped) {
			slog.InfoContext(r.Context(), "WebSocket refused during shutdown", "remote_ip", ip)
			return nil
		}
		slog.ErrorContext(r.Context(), "WebSocket serve failed", "error", err)
	}
	return nil
}
