package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/topicrelay/internal/platform/correlation"
)

const (
	DemoTopic   = "data"
	demoMessage = "Hello, world!"
)

// Publisher broadcasts a payload to every subscriber of topic on any node.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (int64, error)
}

// DemoPublisher sends a fixed greeting to the demo topic on an interval, so a
// fresh deployment has traffic to look at.
type DemoPublisher struct {
	publisher Publisher
	clock     clockwork.Clock
	interval  time.Duration
}

func NewDemoPublisher(publisher Publisher, clock clockwork.Clock, interval time.Duration) *DemoPublisher {
	return &DemoPublisher{publisher: publisher, clock: clock, interval: interval}
}

// Run blocks until ctx is cancelled.
func (d *DemoPublisher) Run(ctx context.Context) {
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			tickCtx := correlation.WithID(ctx, correlation.NewID())
			receivers, err := d.publisher.Publish(tickCtx, DemoTopic, map[string]string{"message": demoMessage})
			if err != nil {
				slog.WarnContext(tickCtx, "Demo publish failed", "error", err)
				continue
			}
			slog.DebugContext(tickCtx, "Demo message published", "receivers", receivers)
		}
	}
}
