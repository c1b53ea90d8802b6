package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Actor is the caller identity resolved by the authentication layer.
type Actor struct {
	ID   string
	Name string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Line is one cart entry. The price is the snapshot taken when the item was
// added to the cart.
type Line struct {
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Variant struct {
	ID        string
	SKU       string
	Name      string
	Price     decimal.Decimal
	Stock     int
	UpdatedAt time.Time
}

type Adjustment struct {
	Kind   string          `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

type Order struct {
	ID             string          `json:"id"`
	Number         string          `json:"order_number"`
	CustomerID     string          `json:"customer_id"`
	CustomerName   string          `json:"customer_name,omitempty"`
	Status         Status          `json:"status"`
	DeliveryType   string          `json:"delivery_type"`
	PaymentMethod  string          `json:"payment_method"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Adjustments    []Adjustment    `json:"adjustments"`
	Total          decimal.Decimal `json:"total"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	Items          []OrderItem     `json:"items"`
}

type OrderItem struct {
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Lines returns the recorded quantities of the order, used for compensation.
func (o *Order) Lines() []Line {
	out := make([]Line, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, Line{VariantID: it.VariantID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return out
}

func (o *Order) OwnedBy(a Actor) bool { return o.CustomerID == a.ID }
