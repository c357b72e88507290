package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leihsy/internal/database"
	"leihsy/internal/domain"
	"leihsy/internal/events"
	"leihsy/internal/metrics"
	"leihsy/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotLender       = errors.New("only the lender can issue transaction tokens")
	ErrBadTransaction  = errors.New("transaction type must be PICKUP or RETURN")
	ErrWrongTokenState = database.ErrTokenStateMismatch
)

// TransactionService mints and redeems the single-use tokens behind the
// pickup and return QR codes. The sqlite store is authoritative for
// consumption; the cache only restores an open dialog.
type TransactionService struct {
	store    domain.Store
	cache    domain.TokenCache
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewTransactionService(store domain.Store, cache domain.TokenCache, eventBus domain.EventPublisher, logger *zerolog.Logger) *TransactionService {
	return &TransactionService{
		store:    store,
		cache:    cache,
		eventBus: eventBus,
		logger:   logger,
	}
}

// GenerateToken mints a token for the booking, or hands back the still
// active one so reopening the dialog does not invalidate a code the
// counterparty may already have on screen.
func (s *TransactionService) GenerateToken(ctx context.Context, bookingID, callerID int64, tokenType string) (*models.TransactionToken, error) {
	if tokenType != models.TransactionPickup && tokenType != models.TransactionReturn {
		return nil, ErrBadTransaction
	}

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if callerID != booking.LenderID {
		return nil, ErrNotLender
	}

	token := &models.TransactionToken{BookingID: bookingID, Type: tokenType}
	if booking.Status != token.RequiredStatus() {
		return nil, fmt.Errorf("%w: booking is %s", database.ErrTokenStateMismatch, booking.Status)
	}
	// A pickup code needs an agreed date behind it; redemption applies the
	// same transition the direct pickup action does, so it must meet the
	// same precondition. Mint-time is when the lender can still fix it.
	if tokenType == models.TransactionPickup && booking.ConfirmedPickup == "" {
		return nil, ErrNoConfirmedPickup
	}

	if s.cache != nil {
		if active, err := s.cache.GetActive(ctx, bookingID, tokenType); err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", bookingID).Msg("token cache read error")
		} else if active != nil {
			return active, nil
		}
	}

	now := time.Now()
	token.Token = uuid.NewString()
	token.ExpiresAt = now.Add(models.TokenTTL)
	token.CreatedAt = now

	if err := s.store.CreateToken(ctx, token); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, token); err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", bookingID).Msg("token cache write error")
		}
	}

	return token, nil
}

// Redeem consumes the token and applies the transition it authorizes.
// Exactly one caller can succeed per token.
func (s *TransactionService) Redeem(ctx context.Context, tokenStr string) (*models.Booking, error) {
	booking, token, err := s.store.RedeemToken(ctx, tokenStr, time.Now())
	if err != nil {
		metrics.IncRedemption(redemptionOutcome(err))
		return nil, err
	}
	metrics.IncRedemption("ok")

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, token.BookingID, token.Type); err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", token.BookingID).Msg("token cache invalidate error")
		}
	}
	s.publishRedeemed(token.Type, booking)

	return booking, nil
}

func (s *TransactionService) publishRedeemed(tokenType string, booking *models.Booking) {
	if s.eventBus == nil {
		return
	}

	eventType := events.EventBookingPickedUp
	if tokenType == models.TransactionReturn {
		eventType = events.EventBookingReturned
	}

	payload := events.BookingEventPayload{
		BookingID:       booking.ID,
		UserID:          booking.UserID,
		UserName:        booking.UserName,
		LenderID:        booking.LenderID,
		LenderName:      booking.LenderName,
		ProductName:     booking.ProductName,
		ItemInvNumber:   booking.ItemInvNumber,
		Status:          booking.Status,
		ConfirmedPickup: booking.ConfirmedPickup,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func redemptionOutcome(err error) string {
	switch {
	case errors.Is(err, database.ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, database.ErrTokenExpired):
		return "expired"
	case errors.Is(err, database.ErrTokenAlreadyUsed):
		return "already_used"
	case errors.Is(err, database.ErrTokenStateMismatch):
		return "state_mismatch"
	default:
		return "error"
	}
}
