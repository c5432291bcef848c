package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/pscheid92/topicrelay/internal/domain"
	apperrors "github.com/pscheid92/topicrelay/internal/platform/errors"
	goredis "github.com/redis/go-redis/v9"
)

// TopicIndex is the distributed subscription index. It stores identifiers
// only; every multi-key mutation is one Lua script.
type TopicIndex struct {
	rdb  goredis.UniversalClient
	keys Keys
	ttl  string
}

var _ domain.TopicIndex = (*TopicIndex)(nil)

func NewTopicIndex(rdb goredis.UniversalClient, keys Keys, ttl time.Duration) *TopicIndex {
	return &TopicIndex{
		rdb:  rdb,
		keys: keys,
		ttl:  strconv.FormatInt(int64(ttl/time.Second), 10),
	}
}

func (x *TopicIndex) Subscribe(ctx context.Context, connID, topic string) (bool, error) {
	if connID == "" || topic == "" {
		return false, nil
	}

	added, err := subscribeScript.Run(ctx, x.rdb,
		[]string{x.keys.Topic(topic), x.keys.Conn(connID), x.keys.Topics()},
		connID, topic, x.ttl,
	).Int64()
	if err != nil {
		return false, apperrors.StoreError("subscribe script failed", err).
			WithContext("conn_id", connID).WithContext("topic", topic)
	}
	return added == 1, nil
}

func (x *TopicIndex) Unsubscribe(ctx context.Context, connID, topic string) (bool, error) {
	if connID == "" || topic == "" {
		return false, nil
	}

	removed, err := unsubscribeScript.Run(ctx, x.rdb,
		[]string{x.keys.Topic(topic), x.keys.Conn(connID), x.keys.Topics()},
		connID, topic, x.ttl,
	).Int64()
	if err != nil {
		return false, apperrors.StoreError("unsubscribe script failed", err).
			WithContext("conn_id", connID).WithContext("topic", topic)
	}
	return removed == 1, nil
}

func (x *TopicIndex) UnsubscribeAll(ctx context.Context, connID string) (int, error) {
	if connID == "" {
		return 0, nil
	}
	n, err := x.dropConnections(ctx, []string{connID})
	if err != nil {
		return 0, apperrors.StoreError("unsubscribe-all script failed", err).WithContext("conn_id", connID)
	}
	return n, nil
}

func (x *TopicIndex) BulkCleanup(ctx context.Context, connIDs []string) (int, error) {
	if len(connIDs) == 0 {
		return 0, nil
	}
	n, err := x.dropConnections(ctx, connIDs)
	if err != nil {
		return 0, apperrors.StoreError("bulk cleanup script failed", err).WithContext("connections", len(connIDs))
	}
	return n, nil
}

func (x *TopicIndex) dropConnections(ctx context.Context, connIDs []string) (int, error) {
	args := make([]any, 0, len(connIDs)+1)
	args = append(args, x.keys.Base())
	for _, id := range connIDs {
		args = append(args, id)
	}

	n, err := unsubscribeAllScript.Run(ctx, x.rdb, x.connKeys(connIDs), args...).Int64()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// connKeys returns the global set followed by one conn set per id.
func (x *TopicIndex) connKeys(connIDs []string) []string {
	keys := make([]string, 0, len(connIDs)+1)
	keys = append(keys, x.keys.Topics())
	for _, id := range connIDs {
		keys = append(keys, x.keys.Conn(id))
	}
	return keys
}

// Touch keeps the index state of live connections from expiring. The heartbeat
// calls it for every connection that answered its last ping.
func (x *TopicIndex) Touch(ctx context.Context, connIDs []string) (int, error) {
	if len(connIDs) == 0 {
		return 0, nil
	}

	n, err := touchScript.Run(ctx, x.rdb, x.connKeys(connIDs), x.keys.Base(), x.ttl).Int64()
	if err != nil {
		return 0, apperrors.StoreError("touch script failed", err).WithContext("connections", len(connIDs))
	}
	return int(n), nil
}

func (x *TopicIndex) Subscribers(ctx context.Context, topic string) ([]string, error) {
	ids, err := x.rdb.SMembers(ctx, x.keys.Topic(topic)).Result()
	if err != nil {
		return nil, apperrors.StoreError("read subscribers failed", err).WithContext("topic", topic)
	}
	return ids, nil
}

func (x *TopicIndex) ClientTopics(ctx context.Context, connID string) ([]string, error) {
	topics, err := x.rdb.SMembers(ctx, x.keys.Conn(connID)).Result()
	if err != nil {
		return nil, apperrors.StoreError("read client topics failed", err).WithContext("conn_id", connID)
	}
	return topics, nil
}

func (x *TopicIndex) IsSubscribed(ctx context.Context, connID, topic string) (bool, error) {
	ok, err := x.rdb.SIsMember(ctx, x.keys.Topic(topic), connID).Result()
	if err != nil {
		return false, apperrors.StoreError("read membership failed", err).
			WithContext("conn_id", connID).WithContext("topic", topic)
	}
	return ok, nil
}

func (x *TopicIndex) TopicCount(ctx context.Context) (int64, error) {
	n, err := x.rdb.SCard(ctx, x.keys.Topics()).Result()
	if err != nil {
		return 0, apperrors.StoreError("read topic count failed", err)
	}
	return n, nil
}

func (x *TopicIndex) TopicNames(ctx context.Context) ([]string, error) {
	names, err := x.rdb.SMembers(ctx, x.keys.Topics()).Result()
	if err != nil {
		return nil, apperrors.StoreError("read topic names failed", err)
	}
	return names, nil
}

func (x *TopicIndex) SubscriberCount(ctx context.Context, topic string) (int64, error) {
	n, err := x.rdb.SCard(ctx, x.keys.Topic(topic)).Result()
	if err != nil {
		return 0, apperrors.StoreError("read subscriber count failed", err).WithContext("topic", topic)
	}
	return n, nil
}

// Sweep removes global topic names whose subscriber set expired.
func (x *TopicIndex) Sweep(ctx context.Context) (int, error) {
	stale, err := x.sweep(ctx, false)
	return len(stale), err
}

// StaleTopics lists the names Sweep would remove, without removing them.
func (x *TopicIndex) StaleTopics(ctx context.Context) ([]string, error) {
	return x.sweep(ctx, true)
}

func (x *TopicIndex) sweep(ctx context.Context, dryRun bool) ([]string, error) {
	flag := "0"
	if dryRun {
		flag = "1"
	}

	stale, err := sweepScript.Run(ctx, x.rdb, []string{x.keys.Topics()}, x.keys.Base(), flag).StringSlice()
	if err != nil {
		return nil, apperrors.StoreError("sweep script failed", err)
	}
	return stale, nil
}
