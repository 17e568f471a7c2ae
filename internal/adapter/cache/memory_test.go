package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/simaogato/guildbank-backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_ExpiresEntries(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(10)
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Put(ctx, alice, decimal.NewFromInt(5), time.Minute))

	balance, found, err := cache.Get(ctx, alice)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, balance.Equal(decimal.NewFromInt(5)))

	now = now.Add(time.Minute)
	_, found, err = cache.Get(ctx, alice)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, cache.Len())
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(2)
	require.NoError(t, err)

	bob := domain.NewAccountID("guild1", "bob")
	carol := domain.NewAccountID("guild1", "carol")

	require.NoError(t, cache.Put(ctx, alice, decimal.NewFromInt(1), time.Minute))
	require.NoError(t, cache.Put(ctx, bob, decimal.NewFromInt(2), time.Minute))
	_, _, _ = cache.Get(ctx, alice)
	require.NoError(t, cache.Put(ctx, carol, decimal.NewFromInt(3), time.Minute))

	_, found, _ := cache.Get(ctx, bob)
	assert.False(t, found, "bob was least recently used")
	_, found, _ = cache.Get(ctx, alice)
	assert.True(t, found)
	_, found, _ = cache.Get(ctx, carol)
	assert.True(t, found)
}

func TestMemoryCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(10)
	require.NoError(t, err)

	require.NoError(t, cache.Put(ctx, alice, decimal.NewFromInt(5), time.Minute))
	require.NoError(t, cache.Invalidate(ctx, alice))

	_, found, err := cache.Get(ctx, alice)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_RejectsInvalidSize(t *testing.T) {
	_, err := NewMemoryCache(0)
	assert.Error(t, err)
}
