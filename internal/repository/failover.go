package repository

import (
	"context"
	"sync/atomic"
	"time"

	"leihsy/internal/domain"
	"leihsy/internal/models"

	"github.com/rs/zerolog"
)

// FailoverTokenCache uses the primary cache until it errors, then serves
// from the fallback and probes the primary again after a cooldown.
type FailoverTokenCache struct {
	primary   domain.TokenCache
	fallback  domain.TokenCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverTokenCache(primary, fallback domain.TokenCache, logger *zerolog.Logger) *FailoverTokenCache {
	return &FailoverTokenCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

const recoveryInterval = time.Minute

func (r *FailoverTokenCache) markDown(err error) {
	r.logger.Error().Err(err).Msg("primary token cache failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverTokenCache) shouldProbe() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverTokenCache) GetActive(ctx context.Context, bookingID int64, tokenType string) (*models.TransactionToken, error) {
	if !r.isDown.Load() {
		token, err := r.primary.GetActive(ctx, bookingID, tokenType)
		if err == nil {
			return token, nil
		}
		r.markDown(err)
	} else if r.shouldProbe() {
		token, err := r.primary.GetActive(ctx, bookingID, tokenType)
		if err == nil {
			r.isDown.Store(false)
			return token, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.GetActive(ctx, bookingID, tokenType)
}

func (r *FailoverTokenCache) Put(ctx context.Context, token *models.TransactionToken) error {
	if !r.isDown.Load() {
		err := r.primary.Put(ctx, token)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Put(ctx, token)
}

func (r *FailoverTokenCache) Invalidate(ctx context.Context, bookingID int64, tokenType string) error {
	// Invalidate both sides so a recovered primary cannot resurrect a
	// consumed token.
	var primaryErr error
	if !r.isDown.Load() {
		primaryErr = r.primary.Invalidate(ctx, bookingID, tokenType)
		if primaryErr != nil {
			r.markDown(primaryErr)
		}
	}
	return r.fallback.Invalidate(ctx, bookingID, tokenType)
}
