package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. Transactions are serialized by one
// mutex and a failed transaction restores the state it started from. It backs
// tests and single-process development runs.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	stock  map[string]int
	carts  map[string][]Line
	seq    map[int]int64
	orders map[string]Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		stock:  map[string]int{},
		carts:  map[string][]Line{},
		seq:    map[int]int64{},
		orders: map[string]Order{},
	}}
}

func (s memState) clone() memState {
	c := memState{
		stock:  make(map[string]int, len(s.stock)),
		carts:  make(map[string][]Line, len(s.carts)),
		seq:    make(map[int]int64, len(s.seq)),
		orders: make(map[string]Order, len(s.orders)),
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = append([]Line(nil), v...)
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

func (s *MemoryStore) SetStock(variantID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.stock[variantID] = qty
}

func (s *MemoryStore) Stock(variantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.stock[variantID]
}

// Variants lists stocked variants ordered by id. Only id and stock are known
// to the memory store.
func (s *MemoryStore) Variants(context.Context) ([]Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Variant, 0, len(s.state.stock))
	for id, n := range s.state.stock {
		out = append(out, Variant{ID: id, Stock: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AddToCart(customerID string, l Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.carts[customerID] = append(s.state.carts[customerID], l)
}

func (s *MemoryStore) Cart(customerID string) []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Line(nil), s.state.carts[customerID]...)
}

// SetSequence primes the per-year order counter.
func (s *MemoryStore) SetSequence(year int, last int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.seq[year] = last
}

func (s *MemoryStore) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	tx := &memTx{st: &s.state}
	if err := fn(tx); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) Order(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func copyOrder(o Order) *Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	o.Adjustments = append([]Adjustment{}, o.Adjustments...)
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		o.CancelledAt = &t
	}
	return &o
}

type memTx struct {
	st *memState
}

func (t *memTx) CartLines(_ context.Context, customerID string) ([]Line, error) {
	return append([]Line(nil), t.st.carts[customerID]...), nil
}

func (t *memTx) ClearCart(_ context.Context, customerID string) error {
	delete(t.st.carts, customerID)
	return nil
}

func (t *memTx) LockStock(_ context.Context, variantIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(variantIDs))
	for _, id := range variantIDs {
		if q, ok := t.st.stock[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func (t *memTx) DecrementStock(_ context.Context, variantID string, qty int) error {
	have, ok := t.st.stock[variantID]
	if !ok || have < qty {
		return fmt.Errorf("stock for %s would go negative", variantID)
	}
	t.st.stock[variantID] = have - qty
	return nil
}

func (t *memTx) IncrementStock(_ context.Context, variantID string, qty int) error {
	t.st.stock[variantID] += qty
	return nil
}

func (t *memTx) NextOrderSequence(_ context.Context, year int) (int64, error) {
	t.st.seq[year]++
	return t.st.seq[year], nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	for _, prev := range t.st.orders {
		if prev.Number == o.Number {
			return fmt.Errorf("order number %s already exists", o.Number)
		}
		if o.IdempotencyKey != "" && prev.CustomerID == o.CustomerID && prev.IdempotencyKey == o.IdempotencyKey {
			return ErrDuplicateKey
		}
	}
	t.st.orders[o.ID] = *copyOrder(*o)
	return nil
}

func (t *memTx) OrderForUpdate(_ context.Context, id string) (*Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func (t *memTx) OrderByIdempotencyKey(_ context.Context, customerID, key string) (*Order, error) {
	var found []Order
	for _, o := range t.st.orders {
		if o.CustomerID == customerID && o.IdempotencyKey == key {
			found = append(found, o)
		}
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	return copyOrder(found[0]), nil
}

func (t *memTx) SetStatus(_ context.Context, id string, status Status, at time.Time, cancelledAt *time.Time) error {
	o, ok := t.st.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	if cancelledAt != nil {
		c := *cancelledAt
		o.CancelledAt = &c
	}
	t.st.orders[id] = o
	return nil
}
