package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder() orders.Order {
	return orders.Order{
		ID:           "o-1",
		Number:       "BLD-2026-000006",
		CustomerName: "Budi",
		Total:        decimal.RequireFromString("20"),
		CreatedAt:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotification_JSONRoundTrip(t *testing.T) {
	n := NewOrder(sampleOrder(), time.Date(2026, 5, 1, 12, 0, 1, 0, time.UTC))

	b, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"NEW_ORDER"`)
	assert.Contains(t, string(b), `"orderNumber":"BLD-2026-000006"`)
	assert.Contains(t, string(b), `"total":"20.00"`)

	var got Notification
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, n.ID, got.ID)
	require.NotNil(t, got.NewOrder)
	assert.Equal(t, *n.NewOrder, *got.NewOrder)
}

func TestNotification_UnknownKindRejected(t *testing.T) {
	var n Notification
	err := json.Unmarshal([]byte(`{"id":"x","type":"REFUND","payload":{}}`), &n)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = json.Marshal(Notification{ID: "x", Kind: "REFUND"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEncodePush(t *testing.T) {
	b, err := EncodePush(NewOrder(sampleOrder(), time.Now()))
	require.NoError(t, err)

	var frame struct {
		Event string          `json:"event"`
		Data  NewOrderPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &frame))
	assert.Equal(t, "new_order", frame.Event)
	assert.Equal(t, "o-1", frame.Data.OrderID)
	assert.Equal(t, "Budi", frame.Data.CustomerName)
}
