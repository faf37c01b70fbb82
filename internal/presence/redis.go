package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV implements KV on a Redis server.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV connects using a redis:// URL.
func NewRedisKV(url string) (*RedisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisKV{client: redis.NewClient(opts)}, nil
}

// NewRedisKVFromClient wraps an existing client.
func NewRedisKVFromClient(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisKV) SAdd(ctx context.Context, set, member string) error {
	return r.client.SAdd(ctx, set, member).Err()
}

func (r *RedisKV) SRem(ctx context.Context, set, member string) error {
	return r.client.SRem(ctx, set, member).Err()
}

func (r *RedisKV) SMembers(ctx context.Context, set string) ([]string, error) {
	return r.client.SMembers(ctx, set).Result()
}

// Ping checks connectivity.
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisKV) Close() error {
	return r.client.Close()
}
