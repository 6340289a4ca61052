package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := NewIdempotencyRepository(client)
	ctx := context.Background()

	got, err := repo.Get(ctx, "idempotency:missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, repo.Set(ctx, "idempotency:k", `{"status":201}`, time.Minute))
	require.NoError(t, repo.Set(ctx, "idempotency:k", `{"status":500}`, time.Minute))

	got, err = repo.Get(ctx, "idempotency:k")
	require.NoError(t, err)
	assert.Equal(t, `{"status":201}`, got)

	mr.FastForward(2 * time.Minute)
	got, err = repo.Get(ctx, "idempotency:k")
	require.NoError(t, err)
	assert.Empty(t, got)
}
