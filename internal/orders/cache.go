package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/sweet-shop/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cache keeps order snapshots in redis. Orders never change after they are
// recorded, so entries are only ever written once and expire by TTL.
// Redis errors degrade to a miss; the breaker stops hammering a dead redis.
type Cache struct {
	rdb kv
	cb  *gobreaker.CircuitBreaker
	ttl time.Duration
	log *zap.Logger
}

func NewCache(rdb kv, ttl time.Duration, log *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = redisx.TTLOrder
	}
	return &Cache{
		rdb: rdb,
		cb:  redisx.NewBreaker("order-cache", 30*time.Second),
		ttl: ttl,
		log: log,
	}
}

func (c *Cache) Get(ctx context.Context, id string) (*Order, bool) {
	key := fmt.Sprintf(redisx.KeyOrder, id)
	raw, err := redisx.ExecuteWithBreaker(c.cb, func() (string, error) {
		s, err := c.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return s, err
	})
	if err != nil {
		c.log.Debug("order cache get failed", zap.String("order_id", id), zap.Error(err))
		return nil, false
	}
	if raw == "" {
		return nil, false
	}
	var o Order
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		c.log.Warn("order cache entry corrupt", zap.String("order_id", id), zap.Error(err))
		return nil, false
	}
	return &o, true
}

func (c *Cache) Set(ctx context.Context, o *Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrder, o.ID)
	_, err = redisx.ExecuteWithBreaker(c.cb, func() (string, error) {
		return c.rdb.Set(ctx, key, b, c.ttl).Result()
	})
	if err != nil {
		c.log.Debug("order cache set failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// Reader serves order reads from the cache and falls back to the ledger.
type Reader struct {
	Ledger *Ledger
	Cache  *Cache
}

func (r *Reader) GetOrder(ctx context.Context, id string) (*Order, error) {
	if r.Cache != nil {
		if o, ok := r.Cache.Get(ctx, id); ok {
			return o, nil
		}
	}
	o, err := r.Ledger.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Cache != nil {
		r.Cache.Set(ctx, o)
	}
	return o, nil
}

func (r *Reader) ListByUser(ctx context.Context, userID int64) ([]Order, error) {
	return r.Ledger.ListByUser(ctx, userID)
}

func (r *Reader) ListAll(ctx context.Context) ([]Order, error) {
	return r.Ledger.ListAll(ctx)
}
