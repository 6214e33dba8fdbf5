package faults

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the flags.
const DefaultRedisKey = "gridsave:faults"

// RedisStore keeps the flags in a Redis hash so several dev processes can
// share one switchboard.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redisURL and pings it.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, key: DefaultRedisKey}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Flags(ctx context.Context) (Flags, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Flags{}, fmt.Errorf("read fault flags: %w", err)
	}
	return fromValues(values)
}

func (s *RedisStore) Save(ctx context.Context, f Flags) error {
	if err := f.Validate(); err != nil {
		return err
	}
	values := make(map[string]any, 3)
	for k, v := range toValues(f) {
		values[k] = v
	}
	if err := s.client.HSet(ctx, s.key, values).Err(); err != nil {
		return fmt.Errorf("save fault flags: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear fault flags: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
