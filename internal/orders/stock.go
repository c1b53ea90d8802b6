package orders

import (
	"context"
	"fmt"
	"sort"
)

// Reserved is the outcome of a successful reservation, in ascending variant order.
type Reserved struct {
	Lines []Line
}

// StockReconciler validates and adjusts inventory for a set of lines.
type StockReconciler struct{}

// MergeLines folds duplicate variants into one line. The first price snapshot wins.
func MergeLines(lines []Line) []Line {
	idx := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.VariantID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.VariantID] = len(out)
		out = append(out, l)
	}
	return out
}

// Reserve locks every referenced variant and decrements it by the requested
// quantity. Either every line is decremented or none is.
func (StockReconciler) Reserve(ctx context.Context, tx Tx, lines []Line) (Reserved, error) {
	if len(lines) == 0 {
		return Reserved{}, ErrEmptyCart
	}
	sorted := make([]Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VariantID < sorted[j].VariantID })

	ids := make([]string, 0, len(sorted))
	for i, l := range sorted {
		if l.VariantID == "" {
			return Reserved{}, validationf("missing variant id")
		}
		if l.Quantity <= 0 {
			return Reserved{}, validationf("invalid quantity %d for variant %s", l.Quantity, l.VariantID)
		}
		if l.UnitPrice.IsNegative() {
			return Reserved{}, validationf("negative price for variant %s", l.VariantID)
		}
		if i > 0 && sorted[i-1].VariantID == l.VariantID {
			return Reserved{}, validationf("duplicate variant %s", l.VariantID)
		}
		ids = append(ids, l.VariantID)
	}

	available, err := tx.LockStock(ctx, ids)
	if err != nil {
		return Reserved{}, fmt.Errorf("lock stock: %w", err)
	}

	var shortages []Shortage
	for _, l := range sorted {
		have, ok := available[l.VariantID]
		if !ok {
			return Reserved{}, validationf("unknown variant %s", l.VariantID)
		}
		if have < l.Quantity {
			shortages = append(shortages, Shortage{VariantID: l.VariantID, Requested: l.Quantity, Available: have})
		}
	}
	if len(shortages) > 0 {
		return Reserved{}, &OutOfStockError{Shortages: shortages}
	}

	for _, l := range sorted {
		if err := tx.DecrementStock(ctx, l.VariantID, l.Quantity); err != nil {
			return Reserved{}, fmt.Errorf("decrement %s: %w", l.VariantID, err)
		}
	}
	return Reserved{Lines: sorted}, nil
}

// Release returns quantities to stock. It is only used to compensate a
// cancelled order and always adds.
func (StockReconciler) Release(ctx context.Context, tx Tx, lines []Line) error {
	sorted := make([]Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VariantID < sorted[j].VariantID })

	for _, l := range sorted {
		if l.Quantity <= 0 {
			continue
		}
		if err := tx.IncrementStock(ctx, l.VariantID, l.Quantity); err != nil {
			return fmt.Errorf("release %s: %w", l.VariantID, err)
		}
	}
	return nil
}
