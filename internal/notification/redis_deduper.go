package notification

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "farmstore:notify:"

// RedisDeduper marks delivered events with SETNX so a replayed transition does not
// notify the customer twice.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) FirstDelivery(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, dedupKeyPrefix+key, 1, d.ttl).Result()
}

func (d *RedisDeduper) Forget(ctx context.Context, key string) error {
	return d.rdb.Del(ctx, dedupKeyPrefix+key).Err()
}

// NewRedisClient connects and pings with a short timeout.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
