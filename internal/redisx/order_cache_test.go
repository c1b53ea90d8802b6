package redisx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// countingStore counts reads and can slow them down to force overlap.
type countingStore struct {
	orders.Store
	reads atomic.Int32
	delay time.Duration
}

func (s *countingStore) Order(ctx context.Context, id string) (*orders.Order, error) {
	s.reads.Add(1)
	time.Sleep(s.delay)
	return s.Store.Order(ctx, id)
}

func placeOrder(t *testing.T, store *orders.MemoryStore) *orders.Order {
	t.Helper()
	store.SetStock("v-1", 5)
	store.AddToCart("cust-1", orders.Line{VariantID: "v-1", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")})
	svc := orders.NewService(store, orders.NewAssembler("BLD"), orders.NewLifecycle(store))
	o, _, err := svc.Checkout(context.Background(), orders.CheckoutRequest{
		Customer:      orders.Actor{ID: "cust-1", Role: orders.RoleCustomer},
		DeliveryType:  "pickup",
		PaymentMethod: "cod",
	})
	require.NoError(t, err)
	return o
}

func TestOrderCache_MissFillsOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mem := orders.NewMemoryStore()
	o := placeOrder(t, mem)
	src := &countingStore{Store: mem, delay: 20 * time.Millisecond}
	cache := NewOrderCache(src, rdb, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.Order(context.Background(), o.ID)
			assert.NoError(t, err)
			assert.Equal(t, o.Number, got.Number)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.reads.Load())
	assert.True(t, mr.Exists("order:"+o.ID))

	_, err := cache.Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.reads.Load(), "served from redis")
}

func TestOrderCache_StatusChangeRefreshes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mem := orders.NewMemoryStore()
	o := placeOrder(t, mem)
	cache := NewOrderCache(mem, rdb, zap.NewNop())
	_, err := cache.Order(context.Background(), o.ID)
	require.NoError(t, err)

	svc := orders.NewService(cache, orders.NewAssembler("BLD"), orders.NewLifecycle(cache), orders.WithEvents(cache))
	_, err = svc.Cancel(context.Background(), o.ID, orders.Actor{ID: "cust-1", Role: orders.RoleCustomer})
	require.NoError(t, err)

	got, err := cache.Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
}

func TestOrderCache_RedisDownFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mem := orders.NewMemoryStore()
	o := placeOrder(t, mem)
	mr.Close()

	got, err := NewOrderCache(mem, rdb, zap.NewNop()).Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = NewOrderCache(mem, rdb, zap.NewNop()).Order(context.Background(), "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

// gatedStore pauses a read after it has loaded the row.
type gatedStore struct {
	orders.Store
	loaded  chan struct{}
	release chan struct{}
}

func (s *gatedStore) Order(ctx context.Context, id string) (*orders.Order, error) {
	o, err := s.Store.Order(ctx, id)
	close(s.loaded)
	<-s.release
	return o, err
}

func TestOrderCache_SlowFillDoesNotOverwriteNewerStatus(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mem := orders.NewMemoryStore()
	o := placeOrder(t, mem)
	mr.Del("order:" + o.ID)
	src := &gatedStore{Store: mem, loaded: make(chan struct{}), release: make(chan struct{})}
	cache := NewOrderCache(src, rdb, zap.NewNop())

	fill := make(chan *orders.Order, 1)
	go func() {
		got, err := cache.Order(context.Background(), o.ID)
		assert.NoError(t, err)
		fill <- got
	}()
	<-src.loaded

	svc := orders.NewService(cache, orders.NewAssembler("BLD"), orders.NewLifecycle(cache), orders.WithEvents(cache))
	_, err := svc.Cancel(context.Background(), o.ID, orders.Actor{ID: "cust-1", Role: orders.RoleCustomer})
	require.NoError(t, err)
	close(src.release)
	assert.Equal(t, orders.StatusPending, (<-fill).Status, "the in-flight read saw the old row")

	got, err := cache.Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
}

func TestOrderCache_OutOfOrderEventsKeepNewest(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cache := NewOrderCache(orders.NewMemoryStore(), rdb, zap.NewNop())
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	confirmed := &orders.Order{ID: "o-1", Status: orders.StatusConfirmed, UpdatedAt: at}
	processing := &orders.Order{ID: "o-1", Status: orders.StatusProcessing, UpdatedAt: at.Add(time.Second)}

	cache.OrderStatusChanged(context.Background(), processing, orders.StatusConfirmed)
	cache.OrderStatusChanged(context.Background(), confirmed, orders.StatusPending)

	got, err := cache.Order(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, got.Status)
	assert.Greater(t, mr.TTL("order:o-1"), time.Duration(0))
}
