// Package memory holds single-node implementations of the topic index and relay.
// They are selected with STORE_MODE=memory and back the cross-node tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/pscheid92/topicrelay/internal/domain"
)

// TopicIndex keeps the reciprocal topic/connection sets in process memory.
// Keys never expire: an orphan requires a crash, and a crash loses the map.
type TopicIndex struct {
	mu          sync.RWMutex
	topics      map[string]map[string]struct{}
	connections map[string]map[string]struct{}
}

var _ domain.TopicIndex = (*TopicIndex)(nil)

func NewTopicIndex() *TopicIndex {
	return &TopicIndex{
		topics:      make(map[string]map[string]struct{}),
		connections: make(map[string]map[string]struct{}),
	}
}

func (x *TopicIndex) Subscribe(_ context.Context, connID, topic string) (bool, error) {
	if connID == "" || topic == "" {
		return false, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	subscribers, ok := x.topics[topic]
	if !ok {
		subscribers = make(map[string]struct{})
		x.topics[topic] = subscribers
	}
	if _, exists := subscribers[connID]; exists {
		return false, nil
	}
	subscribers[connID] = struct{}{}

	joined, ok := x.connections[connID]
	if !ok {
		joined = make(map[string]struct{})
		x.connections[connID] = joined
	}
	joined[topic] = struct{}{}
	return true, nil
}

func (x *TopicIndex) Unsubscribe(_ context.Context, connID, topic string) (bool, error) {
	if connID == "" || topic == "" {
		return false, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	return x.removeLocked(connID, topic), nil
}

func (x *TopicIndex) UnsubscribeAll(_ context.Context, connID string) (int, error) {
	if connID == "" {
		return 0, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	return x.dropConnectionLocked(connID), nil
}

func (x *TopicIndex) BulkCleanup(_ context.Context, connIDs []string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	removed := 0
	for _, id := range connIDs {
		removed += x.dropConnectionLocked(id)
	}
	return removed, nil
}

func (x *TopicIndex) Subscribers(_ context.Context, topic string) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return sortedKeys(x.topics[topic]), nil
}

func (x *TopicIndex) ClientTopics(_ context.Context, connID string) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return sortedKeys(x.connections[connID]), nil
}

func (x *TopicIndex) IsSubscribed(_ context.Context, connID, topic string) (bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.topics[topic][connID]
	return ok, nil
}

func (x *TopicIndex) TopicCount(_ context.Context) (int64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return int64(len(x.topics)), nil
}

func (x *TopicIndex) TopicNames(_ context.Context) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return sortedKeys(x.topics), nil
}

func (x *TopicIndex) SubscriberCount(_ context.Context, topic string) (int64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return int64(len(x.topics[topic])), nil
}

// Touch has nothing to refresh; it reports how many ids hold subscriptions.
func (x *TopicIndex) Touch(_ context.Context, connIDs []string) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	live := 0
	for _, id := range connIDs {
		if _, ok := x.connections[id]; ok {
			live++
		}
	}
	return live, nil
}

// Sweep is a no-op: memory topics are deleted as soon as their last subscriber leaves.
func (x *TopicIndex) Sweep(_ context.Context) (int, error) {
	return 0, nil
}

func (x *TopicIndex) removeLocked(connID, topic string) bool {
	subscribers, ok := x.topics[topic]
	if !ok {
		return false
	}
	if _, member := subscribers[connID]; !member {
		return false
	}

	delete(subscribers, connID)
	if len(subscribers) == 0 {
		delete(x.topics, topic)
	}

	if joined, ok := x.connections[connID]; ok {
		delete(joined, topic)
		if len(joined) == 0 {
			delete(x.connections, connID)
		}
	}
	return true
}

func (x *TopicIndex) dropConnectionLocked(connID string) int {
	joined := x.connections[connID]
	removed := 0
	for topic := range joined {
		subscribers := x.topics[topic]
		if _, member := subscribers[connID]; !member {
			continue
		}
		delete(subscribers, connID)
		if len(subscribers) == 0 {
			delete(x.topics, topic)
		}
		removed++
	}
	delete(x.connections, connID)
	return removed
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
