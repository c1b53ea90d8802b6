package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay spreads push events across API instances over Redis pub/sub. Each
// instance publishes to the channel and rebroadcasts what it receives to
// its own subscribers. A relay without a local hub only publishes.
type Relay struct {
	rdb     redis.UniversalClient
	channel string
	local   *Hub
	log     *zap.Logger
	done    chan struct{}
}

func NewRelay(rdb redis.UniversalClient, local *Hub, log *zap.Logger) *Relay {
	return &Relay{rdb: rdb, channel: redisx.ChannelPush, local: local, log: log, done: make(chan struct{})}
}

func (r *Relay) Broadcast(ctx context.Context, event []byte) error {
	if err := r.rdb.Publish(ctx, r.channel, event).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Start subscribes and returns once the subscription is confirmed. Events
// are forwarded until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	if r.local == nil {
		return errors.New("relay has no local hub to forward to")
	}
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("relay subscribe: %w", err)
	}
	go func() {
		defer close(r.done)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_ = r.local.Broadcast(ctx, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

// Done is closed after the forwarding loop exits.
func (r *Relay) Done() <-chan struct{} { return r.done }
