package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DeliveryFees is a fixed fee per delivery type, e.g. "pickup:0,courier:5.00".
// Unlisted delivery types carry no fee. Amounts are whole cents.
type DeliveryFees map[string]decimal.Decimal

func ParseDeliveryFees(s string) (DeliveryFees, error) {
	fees := DeliveryFees{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, amount, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("delivery fee %q: want name:amount", part)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			return nil, fmt.Errorf("delivery fee %q: %w", part, err)
		}
		if d.IsNegative() || !d.Equal(d.Round(2)) {
			return nil, fmt.Errorf("delivery fee %q: want a non-negative amount with at most 2 decimals", part)
		}
		fees[strings.TrimSpace(name)] = d
	}
	return fees, nil
}

func (f DeliveryFees) Adjustments(_ context.Context, _ string, _ []Line, deliveryType string) ([]Adjustment, error) {
	fee, ok := f[deliveryType]
	if !ok || fee.IsZero() {
		return nil, nil
	}
	return []Adjustment{{Kind: "delivery", Amount: fee}}, nil
}
