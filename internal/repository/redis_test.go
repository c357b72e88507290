package repository

import (
	"context"
	"testing"
	"time"

	"leihsy/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisCache(t *testing.T) (*RedisTokenCache, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisTokenCache(client), s
}

func sampleToken(ttl time.Duration) *models.TransactionToken {
	return &models.TransactionToken{
		ID:        1,
		BookingID: 42,
		Token:     "opaque-token",
		Type:      models.TransactionPickup,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}
}

func TestRedisTokenCache(t *testing.T) {
	cache, s := newMiniredisCache(t)
	ctx := context.Background()

	t.Run("PutAndGetActive", func(t *testing.T) {
		token := sampleToken(models.TokenTTL)
		require.NoError(t, cache.Put(ctx, token))

		got, err := cache.GetActive(ctx, 42, models.TransactionPickup)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, token.Token, got.Token)
		assert.Equal(t, token.BookingID, got.BookingID)
	})

	t.Run("MissReturnsNil", func(t *testing.T) {
		got, err := cache.GetActive(ctx, 999, models.TransactionReturn)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ExpiresWithRedisTTL", func(t *testing.T) {
		token := sampleToken(models.TokenTTL)
		token.BookingID = 43
		require.NoError(t, cache.Put(ctx, token))

		s.FastForward(models.TokenTTL + time.Second)

		got, err := cache.GetActive(ctx, 43, models.TransactionPickup)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ExpiredTokenNotStored", func(t *testing.T) {
		token := sampleToken(-time.Minute)
		token.BookingID = 44
		require.NoError(t, cache.Put(ctx, token))

		got, err := cache.GetActive(ctx, 44, models.TransactionPickup)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Invalidate", func(t *testing.T) {
		token := sampleToken(models.TokenTTL)
		token.BookingID = 45
		require.NoError(t, cache.Put(ctx, token))
		require.NoError(t, cache.Invalidate(ctx, 45, models.TransactionPickup))

		got, err := cache.GetActive(ctx, 45, models.TransactionPickup)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestMemoryTokenCache(t *testing.T) {
	cache := NewMemoryTokenCache()
	ctx := context.Background()

	token := sampleToken(models.TokenTTL)
	require.NoError(t, cache.Put(ctx, token))

	got, err := cache.GetActive(ctx, 42, models.TransactionPickup)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, token.Token, got.Token)

	// a different type is a different slot
	got, err = cache.GetActive(ctx, 42, models.TransactionReturn)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Invalidate(ctx, 42, models.TransactionPickup))
	got, err = cache.GetActive(ctx, 42, models.TransactionPickup)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryTokenCacheExpiry(t *testing.T) {
	cache := NewMemoryTokenCache()
	ctx := context.Background()

	expired := sampleToken(-time.Second)
	require.NoError(t, cache.Put(ctx, expired))

	got, err := cache.GetActive(ctx, 42, models.TransactionPickup)
	require.NoError(t, err)
	assert.Nil(t, got)
}
