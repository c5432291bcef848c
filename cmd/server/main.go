package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/topicrelay/internal/adapter/httpserver"
	"github.com/pscheid92/topicrelay/internal/adapter/memory"
	"github.com/pscheid92/topicrelay/internal/adapter/metrics"
	"github.com/pscheid92/topicrelay/internal/adapter/redis"
	"github.com/pscheid92/topicrelay/internal/app"
	"github.com/pscheid92/topicrelay/internal/domain"
	"github.com/pscheid92/topicrelay/internal/platform/config"
	"github.com/pscheid92/topicrelay/internal/platform/logging"
	"github.com/pscheid92/topicrelay/internal/platform/retry"
	"github.com/pscheid92/topicrelay/internal/platform/version"
	"github.com/pscheid92/topicrelay/internal/websocket"
	goredis "github.com/redis/go-redis/v9"
)

const (
	nodeHeartbeat   = 15 * time.Second
	shutdownTimeout = 10 * time.Second
	sweeperRole     = "topic-sweeper"
)

// backend is the store a node runs against: Redis for a cluster, memory for a single node.
type backend struct {
	index domain.TopicIndex
	relay domain.Relay
	rdb   *goredis.Client
	keys  redis.Keys
	m     *metrics.RedisMetrics
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config, clock clockwork.Clock, m *metrics.RedisMetrics) *goredis.Client {
	client, err := redis.NewClient(cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}

	policy := retry.DefaultStartupPolicy
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Redis not reachable yet, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}
	if err := retry.Until(ctx, clock, policy, func(ctx context.Context) error {
		return redis.Ping(ctx, client)
	}); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	return client
}

func setupBackend(ctx context.Context, cfg *config.Config, clock clockwork.Clock, reg prometheus.Registerer) backend {
	if cfg.StoreMode == config.StoreModeMemory {
		slog.Warn("Running with in-memory store, subscriptions are not shared with other nodes")
		return backend{index: memory.NewTopicIndex(), relay: memory.NewBus()}
	}

	m := metrics.NewRedisMetrics(reg)
	rdb := setupRedis(ctx, cfg, clock, m)
	keys := redis.NewKeys(cfg.KeyPrefix)
	return backend{
		index: redis.NewTopicIndex(rdb, keys, cfg.SubscriptionTTL),
		relay: redis.NewRelay(rdb, cfg.RelayChannel),
		rdb:   rdb,
		keys:  keys,
		m:     m,
	}
}

func runGracefulShutdown(srv *httpserver.Server, mgr *websocket.Manager, stopJobs context.CancelFunc, jobs *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		mgr.Cleanup(shutdownCtx)
		mgr.Stop()

		stopJobs()
		jobs.Wait()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "node_id", cfg.NodeID, "store", cfg.StoreMode, "version", version.Get().Short())

	reg := metrics.NewRegistry()

	be := setupBackend(context.Background(), cfg, clock, reg)
	if be.rdb != nil {
		defer func() { _ = be.rdb.Close() }()
	}

	mgr, err := websocket.NewManager(context.Background(), websocket.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		SendBufferSize:    cfg.SendBufferSize,
	}, be.index, be.relay, clock, metrics.NewWebSocketMetrics(reg))
	if err != nil {
		slog.Error("Failed to subscribe to relay channel", "error", err)
		os.Exit(1)
	}

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	var jobs sync.WaitGroup
	runJob := func(run func(context.Context)) {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			run(jobsCtx)
		}()
	}

	deps := httpserver.Deps{Manager: mgr, Registry: reg}

	if be.rdb != nil {
		nodes := redis.NewNodeRegistry(be.rdb, be.keys, cfg.NodeID, version.Get().Short(), nodeHeartbeat, clock)
		runJob(nodes.Start)
		deps.Nodes = nodes
		deps.HealthChecks = []httpserver.HealthCheck{
			{Name: "redis", Check: func(ctx context.Context) error { return redis.Ping(ctx, be.rdb) }},
		}

		if cfg.TopicSweepInterval > 0 {
			lock := redis.NewLeaderLock(be.rdb, be.keys, sweeperRole, cfg.NodeID, 2*cfg.TopicSweepInterval)
			sweeper := app.NewSweeper(lock, be.index, clock, cfg.TopicSweepInterval, be.m.SweptTopics)
			runJob(sweeper.Run)
		}
	}

	if cfg.DemoPublishInterval > 0 {
		slog.Info("Demo publisher enabled", "topic", app.DemoTopic, "interval", cfg.DemoPublishInterval)
		runJob(app.NewDemoPublisher(mgr, clock, cfg.DemoPublishInterval).Run)
	}

	srv := httpserver.NewServer(cfg, deps)

	done := runGracefulShutdown(srv, mgr, stopJobs, &jobs)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
