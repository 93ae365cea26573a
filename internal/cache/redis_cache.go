package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"cabangpos/backend/internal/domain"
)

type RedisOutcomeCache struct {
	client *redis.Client
}

func NewRedisOutcomeCache(addr string, password string, db int) *RedisOutcomeCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisOutcomeCache{client: client}
}

func (c *RedisOutcomeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisOutcomeCache) Close() error {
	return c.client.Close()
}

func (c *RedisOutcomeCache) Get(ctx context.Context, transactionID string) (*domain.IdempotencyEntry, bool, error) {
	val, err := c.client.Get(ctx, key(transactionID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry domain.IdempotencyEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

func (c *RedisOutcomeCache) Set(ctx context.Context, entry domain.IdempotencyEntry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(entry.TransactionID), payload, ttl).Err()
}

func key(transactionID string) string {
	return "idem:" + transactionID
}
