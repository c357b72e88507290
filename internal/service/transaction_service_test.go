package service

import (
	"context"
	"io"
	"testing"
	"time"

	"leihsy/internal/database"
	"leihsy/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestTransactionService(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	confirmed := func(id int64) *models.Booking {
		b := pendingBooking(id)
		b.Status = models.StatusConfirmed
		b.ConfirmedPickup = "2026-09-01T10:00:00"
		return b
	}

	t.Run("GenerateToken", func(t *testing.T) {
		store := new(mockStore)
		cache := new(mockCache)
		svc := NewTransactionService(store, cache, nil, &logger)

		store.On("GetBooking", ctx, int64(1)).Return(confirmed(1), nil).Once()
		cache.On("GetActive", ctx, int64(1), models.TransactionPickup).Return(nil, nil).Once()
		store.On("CreateToken", ctx, mock.MatchedBy(func(tok *models.TransactionToken) bool {
			return tok.BookingID == 1 && tok.Type == models.TransactionPickup && tok.Token != ""
		})).Return(nil).Once()
		cache.On("Put", ctx, mock.Anything).Return(nil).Once()

		token, err := svc.GenerateToken(ctx, 1, 200, models.TransactionPickup)
		assert.NoError(t, err)
		assert.NotEmpty(t, token.Token)
		assert.WithinDuration(t, time.Now().Add(models.TokenTTL), token.ExpiresAt, 5*time.Second)
		store.AssertExpectations(t)
		cache.AssertExpectations(t)
	})

	t.Run("GenerateTokenReusesActive", func(t *testing.T) {
		store := new(mockStore)
		cache := new(mockCache)
		svc := NewTransactionService(store, cache, nil, &logger)

		active := &models.TransactionToken{BookingID: 2, Token: "live-token", Type: models.TransactionPickup}
		store.On("GetBooking", ctx, int64(2)).Return(confirmed(2), nil).Once()
		cache.On("GetActive", ctx, int64(2), models.TransactionPickup).Return(active, nil).Once()

		token, err := svc.GenerateToken(ctx, 2, 200, models.TransactionPickup)
		assert.NoError(t, err)
		assert.Equal(t, "live-token", token.Token)
		store.AssertNotCalled(t, "CreateToken", mock.Anything, mock.Anything)
	})

	t.Run("GenerateTokenNotLender", func(t *testing.T) {
		store := new(mockStore)
		svc := NewTransactionService(store, nil, nil, &logger)

		store.On("GetBooking", ctx, int64(3)).Return(confirmed(3), nil).Once()

		_, err := svc.GenerateToken(ctx, 3, 100, models.TransactionPickup)
		assert.ErrorIs(t, err, ErrNotLender)
	})

	t.Run("GenerateTokenBadType", func(t *testing.T) {
		svc := NewTransactionService(new(mockStore), nil, nil, &logger)

		_, err := svc.GenerateToken(ctx, 4, 200, "HANDOVER")
		assert.ErrorIs(t, err, ErrBadTransaction)
	})

	t.Run("GenerateTokenNeedsConfirmedPickup", func(t *testing.T) {
		store := new(mockStore)
		svc := NewTransactionService(store, nil, nil, &logger)

		// Confirmed without an agreed date: the pickup transition could
		// never legally run, so the code must not exist either.
		noDate := confirmed(9)
		noDate.ConfirmedPickup = ""
		store.On("GetBooking", ctx, int64(9)).Return(noDate, nil).Once()

		_, err := svc.GenerateToken(ctx, 9, 200, models.TransactionPickup)
		assert.ErrorIs(t, err, ErrNoConfirmedPickup)
		store.AssertNotCalled(t, "CreateToken", mock.Anything, mock.Anything)
	})

	t.Run("GenerateTokenWrongStatus", func(t *testing.T) {
		store := new(mockStore)
		svc := NewTransactionService(store, nil, nil, &logger)

		// RETURN tokens require PICKED_UP, not CONFIRMED.
		store.On("GetBooking", ctx, int64(5)).Return(confirmed(5), nil).Once()

		_, err := svc.GenerateToken(ctx, 5, 200, models.TransactionReturn)
		assert.ErrorIs(t, err, database.ErrTokenStateMismatch)
	})

	t.Run("Redeem", func(t *testing.T) {
		store := new(mockStore)
		cache := new(mockCache)
		bus := new(mockEventBus)
		svc := NewTransactionService(store, cache, bus, &logger)

		pickedUp := pendingBooking(6)
		pickedUp.Status = models.StatusPickedUp
		tok := &models.TransactionToken{BookingID: 6, Token: "tok-6", Type: models.TransactionPickup}

		store.On("RedeemToken", ctx, "tok-6", mock.AnythingOfType("time.Time")).Return(pickedUp, tok, nil).Once()
		cache.On("Invalidate", ctx, int64(6), models.TransactionPickup).Return(nil).Once()
		bus.On("PublishJSON", "booking_picked_up", mock.Anything).Return(nil).Once()

		booking, err := svc.Redeem(ctx, "tok-6")
		assert.NoError(t, err)
		assert.Equal(t, models.StatusPickedUp, booking.Status)
		// The consume itself carries the token back; no second read.
		store.AssertNotCalled(t, "GetToken", mock.Anything, mock.Anything)
		store.AssertExpectations(t)
		cache.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("RedeemErrorsPassThrough", func(t *testing.T) {
		for _, want := range []error{
			database.ErrTokenNotFound,
			database.ErrTokenExpired,
			database.ErrTokenAlreadyUsed,
			database.ErrTokenStateMismatch,
		} {
			store := new(mockStore)
			svc := NewTransactionService(store, nil, nil, &logger)
			store.On("RedeemToken", ctx, "bad", mock.AnythingOfType("time.Time")).Return(nil, nil, want).Once()

			_, err := svc.Redeem(ctx, "bad")
			assert.ErrorIs(t, err, want)
		}
	})
}
