package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
)

type Kind string

const KindNewOrder Kind = "NEW_ORDER"

var ErrUnknownKind = errors.New("unknown notification kind")

// NewOrderPayload is the summary staff see for a freshly created order.
type NewOrderPayload struct {
	OrderID      string    `json:"orderId"`
	OrderNumber  string    `json:"orderNumber"`
	CustomerName string    `json:"customerName"`
	Total        string    `json:"total"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Notification is a tagged variant: Kind selects which payload field is set.
type Notification struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time

	NewOrder *NewOrderPayload
}

func NewOrder(o orders.Order, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Kind:      KindNewOrder,
		CreatedAt: now.UTC(),
		NewOrder: &NewOrderPayload{
			OrderID:      o.ID,
			OrderNumber:  o.Number,
			CustomerName: o.CustomerName,
			Total:        o.Total.StringFixed(2),
			CreatedAt:    o.CreatedAt,
		},
	}
}

type wireNotification struct {
	ID        string          `json:"id"`
	Type      Kind            `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

func (n Notification) payload() (any, error) {
	switch n.Kind {
	case KindNewOrder:
		if n.NewOrder == nil {
			return nil, fmt.Errorf("%s notification without payload", n.Kind)
		}
		return n.NewOrder, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, n.Kind)
	}
}

func (n Notification) MarshalJSON() ([]byte, error) {
	p, err := n.payload()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireNotification{ID: n.ID, Type: n.Kind, CreatedAt: n.CreatedAt, Payload: raw})
}

func (n *Notification) UnmarshalJSON(b []byte) error {
	var w wireNotification
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Notification{ID: w.ID, Kind: w.Type, CreatedAt: w.CreatedAt}
	switch w.Type {
	case KindNewOrder:
		var p NewOrderPayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", w.Type, err)
		}
		out.NewOrder = &p
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}
	*n = out
	return nil
}
