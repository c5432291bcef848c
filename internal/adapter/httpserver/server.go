package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/topicrelay/internal/adapter/metrics"
	redisadapter "github.com/pscheid92/topicrelay/internal/adapter/redis"
	"github.com/pscheid92/topicrelay/internal/platform/config"
	wsmanager "github.com/pscheid92/topicrelay/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// socketManager is the slice of the websocket manager the HTTP layer uses.
type socketManager interface {
	Serve(ctx context.Context, socket wsmanager.Socket, remoteAddr string) error
	Publish(ctx context.Context, topic string, payload any) (int64, error)
	TopicNames(ctx context.Context) ([]string, error)
	TopicSubscriberCount(ctx context.Context, topic string) (int64, error)
	ConnectionCount() int
}

// NodeLister reports the nodes currently in the cluster. Nil in memory mode.
type NodeLister interface {
	ActiveNodes(ctx context.Context) ([]redisadapter.NodeInfo, error)
}

// Deps are the collaborators a Server is wired with.
type Deps struct {
	Manager      socketManager
	Nodes        NodeLister
	HealthChecks []HealthCheck
	Registry     *prometheus.Registry
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	manager      socketManager
	nodes        NodeLister
	healthChecks []HealthCheck
	registry     *prometheus.Registry

	upgrader     websocket.Upgrader
	limits       *ConnectionLimits
	limitMetrics *metrics.ConnectionLimitMetrics
	httpMetrics  *metrics.HTTPMetrics

	stateGroup singleflight.Group
	startTime  time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	reg := deps.Registry
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	limitMetrics := metrics.NewConnectionLimitMetrics(reg)
	checkOrigin := NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment(), limitMetrics.Rejected.WithLabelValues(string(LimitReasonOrigin)))

	srv := &Server{
		echo:         e,
		config:       cfg,
		manager:      deps.Manager,
		nodes:        deps.Nodes,
		healthChecks: deps.HealthChecks,
		registry:     reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		limits:       NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst),
		limitMetrics: limitMetrics,
		httpMetrics:  metrics.NewHTTPMetrics(reg),
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() *echo.Echo { return s.echo }

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections. Hijacked WebSocket connections are
// not tracked by echo and are closed by the manager.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
