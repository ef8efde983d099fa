package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Redis stores keys as plain Redis strings, so several server instances can
// share session state.
type Redis struct {
	client *redis.Client
}

var _ domain.KV = (*Redis)(nil)

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the value stored under key.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get %s failed: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key without expiry.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s failed: %w", key, err)
	}
	return nil
}
