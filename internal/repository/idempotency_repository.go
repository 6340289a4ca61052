package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyRepository stores replayable HTTP responses in Redis.
type IdempotencyRepository struct {
	client *redis.Client
}

func NewIdempotencyRepository(client *redis.Client) *IdempotencyRepository {
	return &IdempotencyRepository{client: client}
}

// Get returns "" with a nil error when the key is unknown.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// Set keeps the first stored value; a concurrent duplicate does not
// overwrite it.
func (r *IdempotencyRepository) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.SetNX(ctx, key, value, ttl).Err()
}
