package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/topicrelay/internal/platform/correlation"
	"github.com/prometheus/client_golang/prometheus"
)

const sweepTimeout = 30 * time.Second

// Lock is a lease held by at most one node at a time.
type Lock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// Sweepable drops stale entries from a shared index and reports how many it removed.
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper periodically removes topic names whose subscriber set has expired.
// Every node runs one, but only the node holding the lock sweeps.
type Sweeper struct {
	lock     Lock
	index    Sweepable
	clock    clockwork.Clock
	interval time.Duration
	swept    prometheus.Counter

	leader bool
}

// NewSweeper creates a sweeper. swept may be nil.
func NewSweeper(lock Lock, index Sweepable, clock clockwork.Clock, interval time.Duration, swept prometheus.Counter) *Sweeper {
	return &Sweeper{
		lock:     lock,
		index:    index,
		clock:    clock,
		interval: interval,
		swept:    swept,
	}
}

// Run blocks until ctx is cancelled. Leadership is released on the way out.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	defer func() {
		if !s.leader {
			return
		}
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(releaseCtx); err != nil {
			slog.WarnContext(releaseCtx, "Sweeper: failed to release leadership", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(correlation.WithID(ctx, correlation.NewID()), sweepTimeout)
	defer cancel()

	if !s.ensureLeader(tickCtx) {
		return
	}

	removed, err := s.index.Sweep(tickCtx)
	if err != nil {
		slog.WarnContext(tickCtx, "Sweeper: sweep failed", "error", err)
		return
	}
	if s.swept != nil {
		s.swept.Add(float64(removed))
	}
	if removed > 0 {
		slog.InfoContext(tickCtx, "Sweeper: removed stale topics", "count", removed)
	} else {
		slog.DebugContext(tickCtx, "Sweeper: nothing to remove")
	}
}

// ensureLeader renews a held lease or tries to take a free one.
func (s *Sweeper) ensureLeader(ctx context.Context) bool {
	if s.leader {
		err := s.lock.Renew(ctx)
		if err == nil {
			return true
		}
		s.leader = false
		slog.WarnContext(ctx, "Sweeper: leadership lost", "error", err)
	}

	acquired, err := s.lock.TryAcquire(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Sweeper: leader election failed", "error", err)
		return false
	}
	if acquired {
		slog.InfoContext(ctx, "Sweeper: acquired leadership")
	}
	s.leader = acquired
	return acquired
}
