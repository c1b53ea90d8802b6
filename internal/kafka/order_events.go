package kafka

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

type publisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header) bool
}

// OrderEvents emits committed order changes as envelopes keyed by order id.
type OrderEvents struct {
	p        publisher
	producer string
	now      func() time.Time
}

func NewOrderEvents(p *Producer, producer string) *OrderEvents {
	return &OrderEvents{p: p, producer: producer, now: time.Now}
}

func (e *OrderEvents) OrderCreated(ctx context.Context, o *orders.Order) {
	e.emit(ctx, orders.TopicOrderCreated, orders.EventOrderCreated, o.ID, orders.NewOrderCreatedPayload(o))
}

func (e *OrderEvents) OrderStatusChanged(ctx context.Context, o *orders.Order, from orders.Status) {
	e.emit(ctx, orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		From:        from,
		To:          o.Status,
		ChangedAt:   o.UpdatedAt,
	})
}

func (e *OrderEvents) emit(ctx context.Context, topic, eventType, orderID string, payload any) {
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    e.now().UTC(),
		Producer:      e.producer,
		CorrelationID: orderID,
		Payload:       MustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	e.p.Publish(topic, orders.PartitionKey(orderID), MustMarshal(env),
		kafka.Header{Key: "event_type", Value: []byte(eventType)})
}
