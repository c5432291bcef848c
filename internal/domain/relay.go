package domain

import "context"

// RelayHandler receives every payload published on the relay channel,
// including the ones this node published itself.
type RelayHandler func(ctx context.Context, payload []byte)

// Relay is the shared cross-node broadcast channel.
type Relay interface {
	// Publish returns the number of nodes that received the payload.
	Publish(ctx context.Context, payload []byte) (int64, error)
	// Subscribe returns once the subscription is confirmed; handler is then
	// invoked sequentially from a background goroutine.
	Subscribe(ctx context.Context, handler RelayHandler) (RelaySubscription, error)
}

type RelaySubscription interface {
	Unsubscribe(ctx context.Context) error
}
