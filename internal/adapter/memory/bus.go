package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pscheid92/topicrelay/internal/domain"
)

const busBufferSize = 256

// Bus is an in-process stand-in for the cross-node relay channel. Every
// subscription plays the part of one node: Publish reaches all of them,
// the publisher's own included, and returns how many there were.
type Bus struct {
	mu   sync.Mutex
	subs map[*busSubscription]struct{}
}

var _ domain.Relay = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{subs: make(map[*busSubscription]struct{})}
}

type busSubscription struct {
	bus     *Bus
	handler domain.RelayHandler
	ch      chan []byte
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (b *Bus) Publish(_ context.Context, payload []byte) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		msg := append([]byte(nil), payload...)
		select {
		case sub.ch <- msg:
		default:
			slog.Warn("Relay subscriber buffer full, dropping message", "buffer", busBufferSize)
		}
	}
	return int64(len(b.subs)), nil
}

func (b *Bus) Subscribe(_ context.Context, handler domain.RelayHandler) (domain.RelaySubscription, error) {
	sub := &busSubscription{
		bus:     b,
		handler: handler,
		ch:      make(chan []byte, busBufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run()
	return sub, nil
}

// Subscriptions reports how many listeners are attached.
func (b *Bus) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (s *busSubscription) run() {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-s.stop:
			return
		case msg := <-s.ch:
			s.handler(ctx, msg)
		}
	}
}

func (s *busSubscription) Unsubscribe(ctx context.Context) error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.stop)
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
