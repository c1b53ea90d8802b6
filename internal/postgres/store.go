package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	maxTxAttempts = 3

	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"

	idempotencyIndex = "orders_customer_idem_uq"
)

// Store implements orders.Store on Postgres. Stock mutual exclusion comes
// from row locks, so several API processes may share one database.
type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InTx runs fn in one transaction and retries it when Postgres reports a
// serialization failure or deadlock.
func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.inTxOnce(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*20) * time.Millisecond):
		}
	}
	return err
}

func (s *Store) inTxOnce(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return false
}

func (s *Store) Order(ctx context.Context, id string) (*orders.Order, error) {
	return loadOrder(ctx, s.DB, id, false)
}

// Variants lists the catalog with current stock.
func (s *Store) Variants(ctx context.Context) ([]orders.Variant, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, sku, name, price::text, stock, updated_at
	                              FROM product_variants ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Variant{}
	for rows.Next() {
		var (
			v     orders.Variant
			price string
		)
		if err := rows.Scan(&v.ID, &v.SKU, &v.Name, &price, &v.Stock, &v.UpdatedAt); err != nil {
			return nil, err
		}
		if v.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("variant %s price: %w", v.ID, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpsertVariant creates or replaces a catalog row.
func (s *Store) UpsertVariant(ctx context.Context, v orders.Variant) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO product_variants (id, sku, name, price, stock)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (id) DO UPDATE SET sku = EXCLUDED.sku, name = EXCLUDED.name,
		    price = EXCLUDED.price, stock = EXCLUDED.stock, updated_at = now()`,
		v.ID, v.SKU, v.Name, v.Price.StringFixed(2), v.Stock)
	return err
}

// AddToCart puts a line into the customer's cart, summing quantities for a
// variant already there and keeping its original price snapshot.
func (s *Store) AddToCart(ctx context.Context, customerID string, l orders.Line) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO cart_items (customer_id, variant_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (customer_id, variant_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		customerID, l.VariantID, l.Quantity, l.UnitPrice.StringFixed(2))
	return err
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) CartLines(ctx context.Context, customerID string) ([]orders.Line, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT variant_id, quantity, unit_price::text
		FROM cart_items
		WHERE customer_id = $1
		ORDER BY added_at, variant_id
		FOR UPDATE`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Line
	for rows.Next() {
		var (
			l     orders.Line
			price string
		)
		if err := rows.Scan(&l.VariantID, &l.Quantity, &price); err != nil {
			return nil, err
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("cart price for %s: %w", l.VariantID, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) ClearCart(ctx context.Context, customerID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE customer_id = $1`, customerID)
	return err
}

// LockStock takes the row locks in id order so two checkouts touching the
// same variants cannot deadlock each other.
func (t *pgTx) LockStock(ctx context.Context, variantIDs []string) (map[string]int, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, stock FROM product_variants
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, variantIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int, len(variantIDs))
	for rows.Next() {
		var (
			id    string
			stock int
		)
		if err := rows.Scan(&id, &stock); err != nil {
			return nil, err
		}
		out[id] = stock
	}
	return out, rows.Err()
}

func (t *pgTx) DecrementStock(ctx context.Context, variantID string, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE product_variants SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, variantID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("stock for %s changed under lock", variantID)
	}
	return nil
}

func (t *pgTx) IncrementStock(ctx context.Context, variantID string, qty int) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE product_variants SET stock = stock + $2, updated_at = now()
		WHERE id = $1`, variantID, qty)
	return err
}

// NextOrderSequence bumps the per-year counter row. The row lock it takes is
// held until commit, which serializes number generation across processes.
func (t *pgTx) NextOrderSequence(ctx context.Context, year int) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO order_sequences (year, last_value) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = order_sequences.last_value + 1
		RETURNING last_value`, year).Scan(&n)
	return n, err
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	adj, err := json.Marshal(o.Adjustments)
	if err != nil {
		return fmt.Errorf("marshal adjustments: %w", err)
	}
	var idem *string
	if o.IdempotencyKey != "" {
		idem = &o.IdempotencyKey
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, customer_id, customer_name, status, delivery_type,
		                    payment_method, subtotal, adjustments, total, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10::numeric, $11, $12, $13)`,
		o.ID, o.Number, o.CustomerID, o.CustomerName, string(o.Status), o.DeliveryType,
		o.PaymentMethod, o.Subtotal.StringFixed(2), adj, o.Total.StringFixed(2), idem, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == idempotencyIndex {
			return orders.ErrDuplicateKey
		}
		return err
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, variant_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric)`,
			o.ID, it.VariantID, it.Quantity, it.UnitPrice.StringFixed(2), it.LineTotal.StringFixed(2))
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) OrderForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	return loadOrder(ctx, t.tx, id, true)
}

func (t *pgTx) OrderByIdempotencyKey(ctx context.Context, customerID, key string) (*orders.Order, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT id::text FROM orders WHERE customer_id = $1 AND idempotency_key = $2`,
		customerID, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return loadOrder(ctx, t.tx, id, false)
}

func (t *pgTx) SetStatus(ctx context.Context, id string, status orders.Status, at time.Time, cancelledAt *time.Time) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = $3, cancelled_at = COALESCE($4, cancelled_at)
		WHERE id = $1`, id, string(status), at, cancelledAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrNotFound
	}
	return nil
}

func loadOrder(ctx context.Context, q querier, id string, lock bool) (*orders.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, orders.ErrNotFound
	}
	query := `
		SELECT id::text, order_number, customer_id, customer_name, status, delivery_type, payment_method,
		       subtotal::text, adjustments, total::text, COALESCE(idempotency_key, ''),
		       created_at, updated_at, cancelled_at
		FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		o               orders.Order
		status          string
		subtotal, total string
		adjustments     []byte
		cancelledAt     *time.Time
	)
	err := q.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.CustomerName, &status, &o.DeliveryType, &o.PaymentMethod,
		&subtotal, &adjustments, &total, &o.IdempotencyKey,
		&o.CreatedAt, &o.UpdatedAt, &cancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	o.Status = orders.Status(status)
	o.CancelledAt = cancelledAt
	if o.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, err
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(adjustments, &o.Adjustments); err != nil {
		return nil, fmt.Errorf("unmarshal adjustments: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT variant_id, quantity, unit_price::text, line_total::text
		FROM order_items WHERE order_id = $1 ORDER BY variant_id`, id)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it              orders.OrderItem
			unit, lineTotal string
		)
		if err := rows.Scan(&it.VariantID, &it.Quantity, &unit, &lineTotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return nil, err
		}
		if it.LineTotal, err = decimal.NewFromString(lineTotal); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order items: %w", err)
	}
	return &o, nil
}
