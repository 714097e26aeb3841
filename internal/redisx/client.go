package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Claimer is the slice of the redis API used for one-shot claims.
type Claimer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Claim sets key only if it is absent. It returns false when another caller
// already holds the key.
func Claim(ctx context.Context, rdb Claimer, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Release removes a claim so the work can be retried.
func Release(ctx context.Context, rdb Claimer, key string) error {
	return rdb.Del(ctx, key).Err()
}
