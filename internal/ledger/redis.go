package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "leadflow:idempotency:"

// RedisStore shares the ledger across tool service replicas.
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, pendingTTL: pendingTTL(ttl)}
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (Entry, bool, error) {
	e := Entry{Key: key, State: StatePending, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, false, err
	}

	ok, err := s.client.SetNX(ctx, redisPrefix+key, data, s.pendingTTL).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return e, true, nil
	}

	raw, err := s.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Reserve(ctx, key)
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("load idempotency key: %w", err)
	}
	var existing Entry
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Entry{}, false, fmt.Errorf("decode idempotency entry: %w", err)
	}
	return existing, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, status int, body []byte) error {
	data, err := json.Marshal(Entry{Key: key, State: StateDone, Status: status, Body: body, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisPrefix+key).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Close leaves the shared client open.
func (s *RedisStore) Close() error { return nil }
