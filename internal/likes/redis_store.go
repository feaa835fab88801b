// Package likes keeps the per-device "already liked" markers. They are
// advisory: the like counter itself lives on the post document.
package likes

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements marker storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed marker store
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "liked:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(postID, deviceID string) string {
	return s.prefix + postID + ":" + deviceID
}

// Mark records that deviceID liked postID. It returns false when the marker
// already existed.
func (s *RedisStore) Mark(ctx context.Context, postID, deviceID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(postID, deviceID), time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark like: %w", err)
	}
	return ok, nil
}

// Unmark removes the marker. It returns false when there was none.
func (s *RedisStore) Unmark(ctx context.Context, postID, deviceID string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(postID, deviceID)).Result()
	if err != nil {
		return false, fmt.Errorf("unmark like: %w", err)
	}
	return n > 0, nil
}

// Liked reports whether deviceID has a marker for postID.
func (s *RedisStore) Liked(ctx context.Context, postID, deviceID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(postID, deviceID)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup like: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping reports whether the marker store answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
