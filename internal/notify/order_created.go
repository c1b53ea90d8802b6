package notify

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// OrderCreatedHandler turns order.created events into NEW_ORDER
// notifications. Redelivered events are recognised by event id and skipped.
type OrderCreatedHandler struct {
	Hub         *Hub
	Redis       redis.Cmdable
	ServiceName string
	Log         *zap.Logger
}

func (h *OrderCreatedHandler) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		// poison message: nothing a retry can fix
		h.Log.Error("drop undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		h.Log.Error("drop event with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	key := redisx.Dedup(h.ServiceName, env.EventID)
	first, err := redisx.Claim(ctx, h.Redis, key, redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	n := Notification{
		ID:        env.EventID,
		Kind:      KindNewOrder,
		CreatedAt: env.OccurredAt,
		NewOrder: &NewOrderPayload{
			OrderID:      p.OrderID,
			OrderNumber:  p.OrderNumber,
			CustomerName: p.CustomerName,
			Total:        p.Total,
			CreatedAt:    p.CreatedAt,
		},
	}
	// wait for queue room rather than drop; the consumer holds the offset
	if err := h.Hub.Submit(ctx, n); err != nil {
		// release the claim so a redelivery is not mistaken for a duplicate
		_ = h.Redis.Del(context.WithoutCancel(ctx), key).Err()
		return fmt.Errorf("queue notification %s: %w", env.EventID, err)
	}
	return nil
}
