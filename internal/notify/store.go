package notify

import (
	"context"
	"sync"
)

const (
	// Capacity is how many notifications each admin queue retains.
	Capacity = 10

	DefaultListLimit = 10
	MaxListLimit     = 50
)

// Store keeps a bounded, most-recent-first queue of notifications per admin.
type Store interface {
	Insert(ctx context.Context, adminID string, n Notification) error
	List(ctx context.Context, adminID string, limit int) ([]Notification, error)
}

// ClampLimit applies the polling defaults: non-positive means default, and
// anything above MaxListLimit is cut down to it.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

type adminQueue struct {
	mu    sync.Mutex
	items []Notification // index 0 is newest
}

// MemoryStore is a single-process Store. Each admin has its own lock so
// inserts for different admins never contend.
type MemoryStore struct {
	queues sync.Map // adminID -> *adminQueue
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Insert(_ context.Context, adminID string, n Notification) error {
	v, _ := s.queues.LoadOrStore(adminID, &adminQueue{})
	q := v.(*adminQueue)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, Notification{})
	copy(q.items[1:], q.items)
	q.items[0] = n
	if len(q.items) > Capacity {
		q.items = q.items[:Capacity]
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, adminID string, limit int) ([]Notification, error) {
	limit = ClampLimit(limit)
	v, ok := s.queues.Load(adminID)
	if !ok {
		return []Notification{}, nil
	}
	q := v.(*adminQueue)

	q.mu.Lock()
	defer q.mu.Unlock()
	if limit > len(q.items) {
		limit = len(q.items)
	}
	out := make([]Notification, limit)
	copy(out, q.items[:limit])
	return out, nil
}
