package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// IDEMPOTENCY_TEST_REDIS_ADDR 가 설정된 경우에만 실행
func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv("IDEMPOTENCY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("IDEMPOTENCY_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore_ReserveOnceUnderPrefix(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	prefix := "idempotency-test:" + uuid.New().String()
	store := NewRedisStore(client, prefix)
	t.Cleanup(func() { _ = client.Del(context.Background(), prefix+":evt-1").Err() })

	ok, err := store.Reserve(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	processed, err := store.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)

	exists, err := client.Exists(ctx, prefix+":evt-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	ttl, err := client.TTL(ctx, prefix+":evt-1").Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute, ttl)

	other := NewRedisStore(client, prefix+"-other")
	processed, err = other.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRedisStore_ReleaseAndExpiry(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	store := NewRedisStore(client, "idempotency-test:"+uuid.New().String())

	ok, err := store.Reserve(ctx, "capture:p-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Release(ctx, "capture:p-1"))
	processed, err := store.IsProcessed(ctx, "capture:p-1")
	require.NoError(t, err)
	assert.False(t, processed)

	ok, err = store.Reserve(ctx, "capture:p-1", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		processed, err := store.IsProcessed(ctx, "capture:p-1")
		return err == nil && !processed
	}, 2*time.Second, 20*time.Millisecond)

	ok, err = store.Reserve(ctx, "capture:p-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, store.Release(ctx, "capture:p-1"))
}
