package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
	err      error
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, payload any) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return 1, r.err
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}

func TestDemoPublisher_PublishesOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewDemoPublisher(pub, clock, 10*time.Second).Run(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, []string{DemoTopic, DemoTopic}, pub.topics)
	assert.Equal(t, map[string]string{"message": "Hello, world!"}, pub.payloads[0])
}

func TestDemoPublisher_KeepsRunningAfterError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{err: errors.New("relay down")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewDemoPublisher(pub, clock, time.Second).Run(ctx)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)
}
