package usercache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisKey holds the serialized cache snapshot.
const redisKey = "usercache:snapshot"

// RedisPersistence satisfies Persistence using a Redis key. The snapshot
// carries its own per-entry timestamps, so the Redis TTL is only a safety
// net against abandoned sessions.
type RedisPersistence struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPersistence verifies connectivity and returns the adapter.
func NewRedisPersistence(addr, password string, dbIndex int) (*RedisPersistence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbIndex,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &RedisPersistence{
		client: client,
		ttl:    24 * time.Hour,
	}, nil
}

func (r *RedisPersistence) Load(ctx context.Context) ([]byte, error) {
	blob, err := r.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (r *RedisPersistence) Save(ctx context.Context, blob []byte) error {
	return r.client.Set(ctx, redisKey, blob, r.ttl).Err()
}

func (r *RedisPersistence) Close() error {
	return r.client.Close()
}
