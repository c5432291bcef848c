package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/pscheid92/topicrelay/internal/adapter/redis"
	"github.com/pscheid92/topicrelay/internal/platform/logging"
)

func main() {
	var (
		redisURL = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		prefix   = flag.String("prefix", envOr("KEY_PREFIX", "ws"), "Key prefix (or set KEY_PREFIX env)")
		dryRun   = flag.Bool("dry-run", false, "List stale topic names without removing them")
		verbose  = flag.Bool("verbose", false, "Verbose logging")
		timeout  = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	slog.SetDefault(logging.New(os.Stdout, level, "text"))

	rdb, err := redis.NewClient(*redisURL, nil)
	if err != nil {
		log.Fatalf("Failed to create Redis client: %v", err)
	}
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := redis.Ping(ctx, rdb); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	slog.Info("Connected to Redis", "url", sanitizeURL(*redisURL), "prefix", *prefix)

	index := redis.NewTopicIndex(rdb, redis.NewKeys(*prefix), 0)
	if err := run(ctx, index, *dryRun); err != nil {
		log.Fatalf("Topic GC failed: %v", err)
	}
}

type staleIndex interface {
	StaleTopics(ctx context.Context) ([]string, error)
	Sweep(ctx context.Context) (int, error)
	TopicCount(ctx context.Context) (int64, error)
}

func run(ctx context.Context, index staleIndex, dryRun bool) error {
	start := time.Now()

	before, err := index.TopicCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count topics: %w", err)
	}

	if dryRun {
		stale, err := index.StaleTopics(ctx)
		if err != nil {
			return fmt.Errorf("failed to list stale topics: %w", err)
		}
		for _, name := range stale {
			slog.Info("Stale topic", "topic", name)
		}
		slog.Info("Dry run summary", "topics", before, "stale", len(stale), "duration_ms", time.Since(start).Milliseconds())
		return nil
	}

	removed, err := index.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	slog.Info("Topic GC summary", "topics_before", before, "removed", removed, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// sanitizeURL hides the password in a Redis URL for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
