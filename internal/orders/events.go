package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type ItemPrice struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID      string      `json:"order_id"`
	OrderNumber  string      `json:"order_number"`
	CustomerID   string      `json:"customer_id"`
	CustomerName string      `json:"customer_name,omitempty"`
	Items        []ItemPrice `json:"items"`
	Subtotal     string      `json:"subtotal"`
	Total        string      `json:"total"`
	CreatedAt    time.Time   `json:"created_at"`
}

type OrderStatusChangedPayload struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	ChangedAt   time.Time `json:"changed_at"`
}

func NewOrderCreatedPayload(o *Order) OrderCreatedPayload {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{VariantID: it.VariantID, Qty: it.Quantity, UnitPrice: it.UnitPrice.StringFixed(2)})
	}
	return OrderCreatedPayload{
		OrderID:      o.ID,
		OrderNumber:  o.Number,
		CustomerID:   o.CustomerID,
		CustomerName: o.CustomerName,
		Items:        items,
		Subtotal:     o.Subtotal.StringFixed(2),
		Total:        o.Total.StringFixed(2),
		CreatedAt:    o.CreatedAt,
	}
}
