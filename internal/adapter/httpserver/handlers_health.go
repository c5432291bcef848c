package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/topicrelay/internal/platform/version"
)

const readinessProbeTimeout = 5 * time.Second

// HealthCheck is one readiness dependency, e.g. the Redis ping.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type checkResult struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

type readinessResponse struct {
	Status string        `json:"status"`
	Checks []checkResult `json:"checks"`
}

type livenessResponse struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"`
	NodeID      string  `json:"node_id"`
	Connections int     `json:"connections"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// handleLiveness never touches Redis; a node with a dead store is still alive.
func (s *Server) handleLiveness(c echo.Context) error {
	return writeJSON(c, http.StatusOK, livenessResponse{
		Status:      "ok",
		Uptime:      time.Since(s.startTime).Seconds(),
		NodeID:      s.config.NodeID,
		Connections: s.manager.ConnectionCount(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	resp := readinessResponse{Status: "ready", Checks: s.runHealthChecks(ctx)}
	status := http.StatusOK
	for _, r := range resp.Checks {
		if !r.Healthy {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			slog.WarnContext(ctx, "Readiness check failed", "check", r.Name, "error", r.Error)
		}
	}
	return writeJSON(c, status, resp)
}

// runHealthChecks runs every check, so one failing dependency does not hide another.
func (s *Server) runHealthChecks(ctx context.Context) []checkResult {
	results := make([]checkResult, 0, len(s.healthChecks))
	for _, hc := range s.healthChecks {
		start := time.Now()
		err := hc.Check(ctx)
		r := checkResult{
			Name:      hc.Name,
			Healthy:   err == nil,
			LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
		}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

func (s *Server) handleVersion(c echo.Context) error {
	return writeJSON(c, http.StatusOK, version.Get())
}

func writeJSON(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to write %s response: %w", c.Path(), err)
	}
	return nil
}
