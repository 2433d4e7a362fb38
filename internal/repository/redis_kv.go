package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const RedisKVPrefix = "farmgate:kv:"

// RedisKV persists values as plain redis strings without expiry.
type RedisKV struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisKV(rdb redis.Cmdable) *RedisKV {
	return &RedisKV{rdb: rdb, prefix: RedisKVPrefix}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.rdb.Set(ctx, r.prefix+key, value, 0).Err()
}

func (r *RedisKV) Remove(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.prefix+key).Err()
}
