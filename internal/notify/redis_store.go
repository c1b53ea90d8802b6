package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps admin queues in Redis lists so every API instance sees the
// same notifications.
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
	log *zap.Logger
}

func NewRedisStore(rdb redis.UniversalClient, log *zap.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: redisx.TTLNotifications, log: log}
}

func (s *RedisStore) Insert(ctx context.Context, adminID string, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	key := redisx.AdminNotifications(adminID)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, b)
		p.LTrim(ctx, key, 0, Capacity-1)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert notification for %s: %w", adminID, err)
	}
	return nil
}

// List skips entries it cannot decode, such as kinds written by a newer
// release, instead of failing the whole page.
func (s *RedisStore) List(ctx context.Context, adminID string, limit int) ([]Notification, error) {
	limit = ClampLimit(limit)
	if limit > Capacity {
		limit = Capacity
	}
	raw, err := s.rdb.LRange(ctx, redisx.AdminNotifications(adminID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications for %s: %w", adminID, err)
	}
	out := make([]Notification, 0, len(raw))
	for _, r := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			s.log.Warn("skip undecodable notification", zap.String("admin_id", adminID), zap.Error(err))
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
