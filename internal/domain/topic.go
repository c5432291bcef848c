package domain

import (
	"context"
	"encoding/json"
)

// TopicMessage is the relayed envelope. It is published once per Publish call
// and written verbatim to every local subscriber on every node.
type TopicMessage struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// TopicIndex is the authoritative, cluster-wide subscription relation.
//
// Mutations are atomic across every key they touch. Reads reflect the state of
// all nodes, not only the caller's.
type TopicIndex interface {
	Subscribe(ctx context.Context, connID, topic string) (bool, error)
	Unsubscribe(ctx context.Context, connID, topic string) (bool, error)
	UnsubscribeAll(ctx context.Context, connID string) (int, error)
	BulkCleanup(ctx context.Context, connIDs []string) (int, error)

	Subscribers(ctx context.Context, topic string) ([]string, error)
	ClientTopics(ctx context.Context, connID string) ([]string, error)
	IsSubscribed(ctx context.Context, connID, topic string) (bool, error)
	TopicCount(ctx context.Context) (int64, error)
	TopicNames(ctx context.Context) ([]string, error)
	SubscriberCount(ctx context.Context, topic string) (int64, error)

	// Touch refreshes the expiry of the given connections, every topic they
	// are subscribed to and the topic-name set. It reports how many of the
	// connections still had index state.
	Touch(ctx context.Context, connIDs []string) (int, error)

	// Sweep drops topic names whose subscriber set no longer exists.
	Sweep(ctx context.Context) (int, error)
}
