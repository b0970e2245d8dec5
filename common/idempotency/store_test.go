package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ReserveOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ok, err := store.Reserve(ctx, "evt-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, "evt-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	processed, err := store.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_, err := store.Reserve(ctx, "evt-1", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	processed, err := store.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestMemoryStore_Release(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, _ = store.Reserve(ctx, "evt-1", 0)
	require.NoError(t, store.Release(ctx, "evt-1"))

	processed, err := store.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)
}
