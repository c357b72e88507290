package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"leihsy/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCache struct {
	calls int
}

func (f *failingCache) GetActive(ctx context.Context, bookingID int64, tokenType string) (*models.TransactionToken, error) {
	f.calls++
	return nil, errors.New("primary down")
}

func (f *failingCache) Put(ctx context.Context, token *models.TransactionToken) error {
	f.calls++
	return errors.New("primary down")
}

func (f *failingCache) Invalidate(ctx context.Context, bookingID int64, tokenType string) error {
	f.calls++
	return errors.New("primary down")
}

func TestFailoverTokenCacheFallsBack(t *testing.T) {
	primary := &failingCache{}
	fallback := NewMemoryTokenCache()
	logger := zerolog.Nop()

	cache := NewFailoverTokenCache(primary, fallback, &logger)
	ctx := context.Background()

	token := sampleToken(models.TokenTTL)
	require.NoError(t, cache.Put(ctx, token))

	got, err := cache.GetActive(ctx, 42, models.TransactionPickup)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, token.Token, got.Token)

	// primary is marked down after the first failure and not probed again
	// within the cooldown
	callsAfterPut := primary.calls
	_, _ = cache.GetActive(ctx, 42, models.TransactionPickup)
	assert.Equal(t, callsAfterPut, primary.calls)
}

func TestFailoverTokenCacheRecovers(t *testing.T) {
	primary := NewMemoryTokenCache()
	fallback := NewMemoryTokenCache()
	logger := zerolog.Nop()

	cache := NewFailoverTokenCache(primary, fallback, &logger)
	ctx := context.Background()

	// simulate a past outage whose cooldown elapsed
	cache.isDown.Store(true)
	cache.lastCheck.Store(time.Now().Add(-2 * recoveryInterval).UnixNano())

	token := sampleToken(models.TokenTTL)
	require.NoError(t, primary.Put(ctx, token))

	got, err := cache.GetActive(ctx, 42, models.TransactionPickup)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, cache.isDown.Load())
}
