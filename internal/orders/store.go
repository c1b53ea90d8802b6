package orders

import (
	"context"
	"time"
)

// Tx is the set of operations the pipeline performs inside one atomic scope.
// Implementations must hold row locks taken by CartLines, LockStock and
// OrderForUpdate until the transaction ends.
type Tx interface {
	// CartLines returns the caller's active cart and locks it.
	CartLines(ctx context.Context, customerID string) ([]Line, error)
	ClearCart(ctx context.Context, customerID string) error

	// LockStock locks the given variants and returns their available quantity.
	// Unknown variants are absent from the result.
	LockStock(ctx context.Context, variantIDs []string) (map[string]int, error)
	DecrementStock(ctx context.Context, variantID string, qty int) error
	IncrementStock(ctx context.Context, variantID string, qty int) error

	// NextOrderSequence atomically increments and returns the per-year counter.
	NextOrderSequence(ctx context.Context, year int) (int64, error)
	InsertOrder(ctx context.Context, o *Order) error
	OrderForUpdate(ctx context.Context, id string) (*Order, error)
	OrderByIdempotencyKey(ctx context.Context, customerID, key string) (*Order, error)
	SetStatus(ctx context.Context, id string, status Status, at time.Time, cancelledAt *time.Time) error
}

// Store runs transactions. InTx commits when fn returns nil and rolls back
// every effect otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Order(ctx context.Context, id string) (*Order, error)
}
