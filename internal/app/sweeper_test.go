package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sharedLock emulates one lock key contended by several nodes.
type sharedLock struct {
	mu     sync.Mutex
	holder string
	err    error
}

type nodeLock struct {
	shared   *sharedLock
	id       string
	releases atomic.Int32
}

func (l *nodeLock) TryAcquire(context.Context) (bool, error) {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	if l.shared.err != nil {
		return false, l.shared.err
	}
	if l.shared.holder == "" {
		l.shared.holder = l.id
		return true, nil
	}
	return false, nil
}

func (l *nodeLock) Renew(context.Context) error {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	if l.shared.holder != l.id {
		return errors.New("leader lock lost")
	}
	return nil
}

func (l *nodeLock) Release(context.Context) error {
	l.releases.Add(1)
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	if l.shared.holder == l.id {
		l.shared.holder = ""
	}
	return nil
}

type countingIndex struct {
	calls   atomic.Int32
	removed int
	err     error
}

func (c *countingIndex) Sweep(context.Context) (int, error) {
	c.calls.Add(1)
	return c.removed, c.err
}

func startSweeper(t *testing.T, s *Sweeper) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestSweeper_OnlyLeaderSweeps(t *testing.T) {
	shared := &sharedLock{}
	clock := clockwork.NewFakeClock()
	ctx := context.Background()

	indexA := &countingIndex{removed: 2}
	indexB := &countingIndex{removed: 2}
	swept := prometheus.NewCounter(prometheus.CounterOpts{Name: "swept"})

	startSweeper(t, NewSweeper(&nodeLock{shared: shared, id: "a"}, indexA, clock, time.Minute, swept))
	startSweeper(t, NewSweeper(&nodeLock{shared: shared, id: "b"}, indexB, clock, time.Minute, nil))

	require.NoError(t, clock.BlockUntilContext(ctx, 2))

	for range 3 {
		clock.Advance(time.Minute)
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return indexA.calls.Load()+indexB.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	assert.True(t, indexA.calls.Load() == 0 || indexB.calls.Load() == 0, "exactly one node sweeps")
	if indexA.calls.Load() > 0 {
		assert.Equal(t, float64(2*indexA.calls.Load()), testutil.ToFloat64(swept))
	}
}

func TestSweeper_ReleasesLeadershipOnShutdown(t *testing.T) {
	shared := &sharedLock{}
	clock := clockwork.NewFakeClock()
	lock := &nodeLock{shared: shared, id: "a"}
	index := &countingIndex{}

	cancel, done := startSweeper(t, NewSweeper(lock, index, clock, time.Minute, nil))

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return index.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, int32(1), lock.releases.Load())
	assert.Empty(t, shared.holder)
}

func TestSweeper_TakesOverLostLease(t *testing.T) {
	shared := &sharedLock{}
	clock := clockwork.NewFakeClock()
	lock := &nodeLock{shared: shared, id: "a"}
	index := &countingIndex{}

	startSweeper(t, NewSweeper(lock, index, clock, time.Minute, nil))
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return index.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// The lease expired and nobody else took it: renewal fails, reacquire succeeds.
	shared.mu.Lock()
	shared.holder = ""
	shared.mu.Unlock()

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return index.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSweeper_ElectionErrorSkipsTick(t *testing.T) {
	shared := &sharedLock{err: errors.New("redis circuit breaker open")}
	clock := clockwork.NewFakeClock()
	index := &countingIndex{}

	startSweeper(t, NewSweeper(&nodeLock{shared: shared, id: "a"}, index, clock, time.Minute, nil))
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))

	clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, index.calls.Load())
}
