package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// putOrderScript writes {v, o} unless the stored v is newer.
var putOrderScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'o', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// OrderCache is an orders.Store whose single-order reads go through Redis.
// Concurrent misses for one id share a single database read. It also
// implements orders.EventSink so committed changes refresh the entry.
//
// Entries are hashes of {v: updated_at in microseconds, o: order JSON}. A
// write never replaces an entry with a newer version, so a slow fill or a
// late status event cannot bring back an older status.
type OrderCache struct {
	orders.Store
	rdb redis.UniversalClient
	ttl time.Duration
	log *zap.Logger
	sf  singleflight.Group
}

func NewOrderCache(store orders.Store, rdb redis.UniversalClient, log *zap.Logger) *OrderCache {
	return &OrderCache{Store: store, rdb: rdb, ttl: TTLOrderCache, log: log}
}

// Redis failures degrade to reading the store.
func (c *OrderCache) Order(ctx context.Context, id string) (*orders.Order, error) {
	key := Order(id)
	if b, err := c.rdb.HGet(ctx, key, "o").Bytes(); err == nil {
		var o orders.Order
		if err := json.Unmarshal(b, &o); err == nil {
			return &o, nil
		}
		c.log.Warn("drop corrupt order cache entry", zap.String("order_id", id))
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("order cache read failed", zap.String("order_id", id), zap.Error(err))
	}

	v, err, _ := c.sf.Do(id, func() (any, error) {
		o, err := c.Store.Order(ctx, id)
		if err != nil {
			return nil, err
		}
		c.put(ctx, o)
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*orders.Order)
	return &cp, nil
}

func (c *OrderCache) OrderCreated(ctx context.Context, o *orders.Order) { c.put(ctx, o) }

func (c *OrderCache) OrderStatusChanged(ctx context.Context, o *orders.Order, _ orders.Status) {
	c.put(ctx, o)
}

func (c *OrderCache) put(ctx context.Context, o *orders.Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	version := o.UpdatedAt.UnixMicro()
	err = putOrderScript.Run(ctx, c.rdb, []string{Order(o.ID)}, version, b, c.ttl.Milliseconds()).Err()
	if err != nil {
		c.log.Warn("order cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
