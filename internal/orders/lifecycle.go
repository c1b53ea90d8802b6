package orders

import (
	"context"
	"time"
)

// Lifecycle applies status transitions. Every transition is a single
// check-and-mutate inside one transaction.
type Lifecycle struct {
	Store Store
	Stock StockReconciler
	Now   func() time.Time
}

func NewLifecycle(store Store) *Lifecycle {
	return &Lifecycle{Store: store, Now: time.Now}
}

// Cancel moves a non-terminal order to CANCELLED and returns the recorded
// quantities to stock. Cancelling an already cancelled order returns it as is
// without releasing stock again. from is the status this call moved the order
// out of, and empty when nothing changed.
func (l *Lifecycle) Cancel(ctx context.Context, orderID string, actor Actor) (o *Order, from Status, err error) {
	if actor.ID == "" {
		return nil, "", ErrUnauthorized
	}
	err = l.Store.InTx(ctx, func(tx Tx) error {
		cur, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && !cur.OwnedBy(actor) {
			return ErrForbidden
		}
		if cur.Status == StatusCancelled {
			o, from = cur, ""
			return nil
		}
		if !CanTransition(cur.Status, StatusCancelled) {
			return transitionf(cur.Status, StatusCancelled)
		}

		now := l.Now().UTC()
		if err := tx.SetStatus(ctx, cur.ID, StatusCancelled, now, &now); err != nil {
			return err
		}
		if err := l.Stock.Release(ctx, tx, cur.Lines()); err != nil {
			return err
		}
		from = cur.Status
		cur.Status = StatusCancelled
		cur.UpdatedAt = now
		cur.CancelledAt = &now
		o = cur
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return o, from, nil
}

// Advance moves an order to its designated successor. Only admins may advance.
func (l *Lifecycle) Advance(ctx context.Context, orderID string, next Status, actor Actor) (*Order, Status, error) {
	if actor.ID == "" {
		return nil, "", ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, "", ErrForbidden
	}
	if !next.Valid() {
		return nil, "", validationf("unknown status %q", next)
	}

	var (
		out  *Order
		from Status
	)
	err := l.Store.InTx(ctx, func(tx Tx) error {
		cur, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		want, ok := Next(cur.Status)
		if !ok || want != next {
			return transitionf(cur.Status, next)
		}
		now := l.Now().UTC()
		if err := tx.SetStatus(ctx, cur.ID, next, now, nil); err != nil {
			return err
		}
		from = cur.Status
		cur.Status = next
		cur.UpdatedAt = now
		out = cur
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, from, nil
}
