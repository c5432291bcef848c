package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrLeaderLost is returned by Renew when another node holds the lock or it expired.
var ErrLeaderLost = errors.New("leader lock lost")

// LeaderLock is a SETNX lease that lets one node at a time run a background role.
type LeaderLock struct {
	rdb    goredis.UniversalClient
	key    string
	holder string
	ttl    time.Duration
}

func NewLeaderLock(rdb goredis.UniversalClient, keys Keys, role, holder string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{
		rdb:    rdb,
		key:    keys.Leader(role),
		holder: holder,
		ttl:    ttl,
	}
}

func (l *LeaderLock) TTL() time.Duration { return l.ttl }

// TryAcquire returns true if this node became leader.
func (l *LeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire leader lock: %w", err)
	}
	return ok, nil
}

// Renew extends the lease while this node still holds it.
func (l *LeaderLock) Renew(ctx context.Context) error {
	ok, err := renewLockScript.Run(ctx, l.rdb, []string{l.key}, l.holder, strconv.FormatInt(l.ttl.Milliseconds(), 10)).Int64()
	if err != nil {
		return fmt.Errorf("failed to renew leader lock: %w", err)
	}
	if ok == 0 {
		return ErrLeaderLost
	}
	return nil
}

// Release deletes the lock if this node still holds it.
func (l *LeaderLock) Release(ctx context.Context) error {
	if err := releaseLockScript.Run(ctx, l.rdb, []string{l.key}, l.holder).Err(); err != nil {
		return fmt.Errorf("failed to release leader lock: %w", err)
	}
	return nil
}
