package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pscheid92/topicrelay/internal/domain"
	apperrors "github.com/pscheid92/topicrelay/internal/platform/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Relay carries topic messages between nodes over one Pub/Sub channel.
// Every node subscribes once; PUBLISH returns the number of listening nodes.
type Relay struct {
	rdb     goredis.UniversalClient
	channel string
}

var _ domain.Relay = (*Relay)(nil)

func NewRelay(rdb goredis.UniversalClient, channel string) *Relay {
	return &Relay{rdb: rdb, channel: channel}
}

func (r *Relay) Channel() string { return r.channel }

func (r *Relay) Publish(ctx context.Context, payload []byte) (int64, error) {
	receivers, err := r.rdb.Publish(ctx, r.channel, payload).Result()
	if err != nil {
		return 0, apperrors.StoreError("relay publish failed", err).WithContext("channel", r.channel)
	}
	return receivers, nil
}

// Subscribe blocks until Redis confirms the subscription, then delivers every
// message to handler on a dedicated goroutine.
func (r *Relay) Subscribe(ctx context.Context, handler domain.RelayHandler) (domain.RelaySubscription, error) {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, apperrors.StoreError("relay subscribe failed", err).WithContext("channel", r.channel)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	sub := &relaySubscription{
		pubsub:  pubsub,
		channel: r.channel,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go sub.listen(listenCtx, handler)

	slog.Info("Relay subscribed", "channel", r.channel)
	return sub, nil
}

type relaySubscription struct {
	pubsub  *goredis.PubSub
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	err     error
}

func (s *relaySubscription) listen(ctx context.Context, handler domain.RelayHandler) {
	defer close(s.done)

	ch := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			handler(ctx, []byte(msg.Payload))
		case <-ctx.Done():
			return
		}
	}
}

func (s *relaySubscription) Unsubscribe(ctx context.Context) error {
	s.once.Do(func() {
		if err := s.pubsub.Unsubscribe(ctx, s.channel); err != nil {
			s.err = fmt.Errorf("unsubscribe %s: %w", s.channel, err)
		}
		s.cancel()
		if err := s.pubsub.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("close pubsub: %w", err)
		}
	})

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.err
}
