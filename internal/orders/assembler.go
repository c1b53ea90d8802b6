package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultNumberPrefix = "BLD"

type AssembleInput struct {
	Customer       Actor
	Reserved       Reserved
	DeliveryType   string
	PaymentMethod  string
	Adjustments    []Adjustment
	IdempotencyKey string
}

// Assembler turns a reservation into a persisted PENDING order.
type Assembler struct {
	Prefix string
	Now    func() time.Time
}

func NewAssembler(prefix string) *Assembler {
	if prefix == "" {
		prefix = DefaultNumberPrefix
	}
	return &Assembler{Prefix: prefix, Now: time.Now}
}

// FormatNumber renders <PREFIX>-<YEAR>-<000000>.
func FormatNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, year, seq)
}

// Totals computes line totals, the subtotal and the grand total.
func Totals(lines []Line, adjustments []Adjustment) (items []OrderItem, subtotal, total decimal.Decimal) {
	items = make([]OrderItem, 0, len(lines))
	subtotal = decimal.Zero
	for _, l := range lines {
		lt := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		items = append(items, OrderItem{
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: lt,
		})
		subtotal = subtotal.Add(lt)
	}
	total = subtotal
	for _, a := range adjustments {
		total = total.Add(a.Amount)
	}
	return items, subtotal, total
}

// Assemble must run inside the transaction that made the reservation so the
// order, its items, the sequence bump and the stock decrement commit together.
func (a *Assembler) Assemble(ctx context.Context, tx Tx, in AssembleInput) (*Order, error) {
	if in.Customer.ID == "" {
		return nil, ErrUnauthorized
	}
	if len(in.Reserved.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	items, subtotal, total := Totals(in.Reserved.Lines, in.Adjustments)
	if total.IsNegative() {
		return nil, validationf("order total is negative")
	}

	now := a.Now().UTC()
	seq, err := tx.NextOrderSequence(ctx, now.Year())
	if err != nil {
		return nil, fmt.Errorf("next order sequence: %w", err)
	}

	adjustments := in.Adjustments
	if adjustments == nil {
		adjustments = []Adjustment{}
	}
	o := &Order{
		ID:             uuid.NewString(),
		Number:         FormatNumber(a.Prefix, now.Year(), seq),
		CustomerID:     in.Customer.ID,
		CustomerName:   in.Customer.Name,
		Status:         StatusPending,
		DeliveryType:   in.DeliveryType,
		PaymentMethod:  in.PaymentMethod,
		Subtotal:       subtotal,
		Adjustments:    adjustments,
		Total:          total,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          items,
	}
	if err := tx.InsertOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}
