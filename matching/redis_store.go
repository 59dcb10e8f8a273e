package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps analysis responses in Redis, for deployments where
// several machines share one cache. Keys are namespaced under keyPrefix
// and never expire.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ctx       context.Context
}

// ConnectRedis establishes a connection and verifies it with a ping.
func ConnectRedis(addr string, keyPrefix string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("ConnectRedis: addr is empty")
	}
	if keyPrefix == "" {
		keyPrefix = "analysis"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ConnectRedis: ping: %w", err)
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ctx: ctx}, nil
}

func (s *RedisStore) key(key string) string {
	return s.keyPrefix + ":" + key
}

func (s *RedisStore) Get(key string) (string, bool, error) {
	b, err := s.client.Get(s.ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("RedisStore.Get: %w", err)
	}
	var e cacheEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return "", false, nil
	}
	return e.Response, true, nil
}

func (s *RedisStore) Put(key string, prompt string, response string) error {
	b, err := json.Marshal(cacheEntry{Prompt: prompt, Response: response})
	if err != nil {
		return fmt.Errorf("RedisStore.Put: marshal: %w", err)
	}
	if err := s.client.Set(s.ctx, s.key(key), b, 0).Err(); err != nil {
		return fmt.Errorf("RedisStore.Put: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
