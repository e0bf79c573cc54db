package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const purgeBatchSize = 500

// RedisStore is a Store over a single Redis server, shared by every process
// instance pointing at the same URL. namespaces are the key prefixes this
// store owns; Purge only touches those.
type RedisStore struct {
	client     *redis.Client
	namespaces []string
}

// NewRedisStore parses a redis:// URL and returns a store. No connection is
// made until the first command.
func NewRedisStore(url string, namespaces ...string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), namespaces: namespaces}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, namespaces ...string) *RedisStore {
	return &RedisStore{client: client, namespaces: namespaces}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// SetWithTTL stores value under key with SETEX semantics.
func (s *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis setex %s: ttl must be positive, got %v", key, ttl)
	}
	if err := s.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis setex %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Purge unlinks every key under the store's namespaces. Keys written by
// other services sharing the database are left alone.
func (s *RedisStore) Purge(ctx context.Context) error {
	if len(s.namespaces) == 0 {
		return errors.New("redis purge: no key namespaces configured")
	}
	for _, ns := range s.namespaces {
		if err := s.purgeNamespace(ctx, ns); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) purgeNamespace(ctx context.Context, ns string) error {
	keys := make([]string, 0, purgeBatchSize)
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		if err := s.client.Unlink(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis unlink %s:*: %w", ns, err)
		}
		keys = keys[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, ns+":*", purgeBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == purgeBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s:*: %w", ns, err)
	}
	return flush()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
