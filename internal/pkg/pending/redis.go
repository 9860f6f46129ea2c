package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces pending-payment slots in Redis.
const RedisKeyPrefix = "pending_payments:"

// RedisBackend stores each slot as one JSON-encoded list under
// RedisKeyPrefix+slot. A positive TTL is refreshed on every write so slots
// of devices that never come back are reclaimed by Redis.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

func (b *RedisBackend) Slot(id string) Store {
	return &redisSlot{backend: b, key: RedisKeyPrefix + id}
}

func (b *RedisBackend) Slots(ctx context.Context) ([]string, error) {
	var ids []string
	iter := b.client.Scan(ctx, 0, RedisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), RedisKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan pending slots: %w", err)
	}
	return ids, nil
}

type redisSlot struct {
	backend *RedisBackend
	key     string
}

func (s *redisSlot) ReadAll(ctx context.Context) ([]PendingPayment, error) {
	data, err := s.backend.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var payments []PendingPayment
	if err := json.Unmarshal(data, &payments); err != nil {
		return nil, fmt.Errorf("decode slot %s: %w", s.key, err)
	}
	return payments, nil
}

func (s *redisSlot) WriteAll(ctx context.Context, payments []PendingPayment) error {
	if len(payments) == 0 {
		return s.backend.client.Del(ctx, s.key).Err()
	}
	data, err := json.Marshal(payments)
	if err != nil {
		return fmt.Errorf("encode slot %s: %w", s.key, err)
	}
	return s.backend.client.Set(ctx, s.key, data, s.backend.ttl).Err()
}
