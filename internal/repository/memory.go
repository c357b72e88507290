package repository

import (
	"context"
	"sync"
	"time"

	"leihsy/internal/models"
)

// MemoryTokenCache is the in-process fallback used when redis is absent
// or unreachable. Expired entries are dropped lazily on read.
type MemoryTokenCache struct {
	tokens sync.Map
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{}
}

func (r *MemoryTokenCache) GetActive(ctx context.Context, bookingID int64, tokenType string) (*models.TransactionToken, error) {
	val, ok := r.tokens.Load(tokenKey(bookingID, tokenType))
	if !ok {
		return nil, nil
	}
	token := val.(*models.TransactionToken)
	if token.Expired(time.Now()) {
		r.tokens.Delete(tokenKey(bookingID, tokenType))
		return nil, nil
	}
	return token, nil
}

func (r *MemoryTokenCache) Put(ctx context.Context, token *models.TransactionToken) error {
	if token.Expired(time.Now()) {
		return nil
	}
	copied := *token
	r.tokens.Store(tokenKey(token.BookingID, token.Type), &copied)
	return nil
}

func (r *MemoryTokenCache) Invalidate(ctx context.Context, bookingID int64, tokenType string) error {
	r.tokens.Delete(tokenKey(bookingID, tokenType))
	return nil
}
