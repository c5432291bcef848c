package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

// nodeActiveWindow is how recent a heartbeat must be for a node to count as live.
const nodeActiveWindow = 60 * time.Second

// NodeInfo is the heartbeat record each node writes into the nodes hash.
type NodeInfo struct {
	NodeID    string `json:"node_id"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

// NodeRegistry tracks live relay nodes. Each node heartbeats into one shared
// hash; nodes silent for more than a minute are reported as inactive.
type NodeRegistry struct {
	rdb       goredis.UniversalClient
	keys      Keys
	nodeID    string
	version   string
	heartbeat time.Duration
	clock     clockwork.Clock
}

func NewNodeRegistry(rdb goredis.UniversalClient, keys Keys, nodeID, version string, heartbeat time.Duration, clock clockwork.Clock) *NodeRegistry {
	return &NodeRegistry{
		rdb:       rdb,
		keys:      keys,
		nodeID:    nodeID,
		version:   version,
		heartbeat: heartbeat,
		clock:     clock,
	}
}

// Start registers immediately, then on every heartbeat tick. Blocks until ctx
// is cancelled, then removes this node's entry.
func (r *NodeRegistry) Start(ctx context.Context) {
	r.register(ctx)

	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.register(ctx)
		case <-ctx.Done():
			r.unregister()
			return
		}
	}
}

func (r *NodeRegistry) register(ctx context.Context) {
	data, err := json.Marshal(NodeInfo{
		NodeID:    r.nodeID,
		Timestamp: r.clock.Now().Unix(),
		Version:   r.version,
	})
	if err != nil {
		return
	}

	if err := r.rdb.HSet(ctx, r.keys.Nodes(), r.nodeID, data).Err(); err != nil {
		slog.Warn("Node heartbeat failed", "node_id", r.nodeID, "error", err)
	}
}

func (r *NodeRegistry) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.rdb.HDel(ctx, r.keys.Nodes(), r.nodeID).Err(); err != nil {
		slog.Warn("Node unregister failed", "node_id", r.nodeID, "error", err)
	}
}

// ActiveNodes returns heartbeat records younger than one minute, sorted by node id.
func (r *NodeRegistry) ActiveNodes(ctx context.Context) ([]NodeInfo, error) {
	entries, err := r.rdb.HGetAll(ctx, r.keys.Nodes()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read nodes: %w", err)
	}

	now := r.clock.Now().Unix()
	active := []NodeInfo{}
	for _, data := range entries {
		var info NodeInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			continue
		}
		if now-info.Timestamp < int64(nodeActiveWindow/time.Second) {
			active = append(active, info)
		}
	}

	slices.SortFunc(active, func(a, b NodeInfo) int {
		switch {
		case a.NodeID < b.NodeID:
			return -1
		case a.NodeID > b.NodeID:
			return 1
		}
		return 0
	})
	return active, nil
}
