package worker

import (
	"context"
	"time"

	"leihsy/internal/models"

	"github.com/rs/zerolog"
)

type expiryStore interface {
	ListExpiryCandidates(ctx context.Context, cutoff time.Time) ([]models.Booking, error)
}

type expirer interface {
	ExpireBooking(ctx context.Context, bookingID int64) error
}

// ExpirySweeper expires confirmed bookings whose agreed pickup passed
// more than the grace window ago without the item being handed out. The
// transition goes through the service, so a booking that moved in the
// meantime is skipped, not failed.
type ExpirySweeper struct {
	store    expiryStore
	bookings expirer
	grace    time.Duration
	interval time.Duration
	logger   *zerolog.Logger
}

func NewExpirySweeper(store expiryStore, bookings expirer, grace, interval time.Duration, logger *zerolog.Logger) *ExpirySweeper {
	if grace <= 0 {
		grace = 24 * time.Hour
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &ExpirySweeper{
		store:    store,
		bookings: bookings,
		grace:    grace,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the sweep loop until ctx is done. One sweep runs
// immediately on start.
func (s *ExpirySweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Dur("grace", s.grace).Msg("expiry sweeper started")
	defer s.logger.Info().Msg("expiry sweeper stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires every overdue-for-pickup booking once and reports how
// many were expired.
func (s *ExpirySweeper) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-s.grace)
	candidates, err := s.store.ListExpiryCandidates(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep: list candidates")
		return 0
	}

	expired := 0
	for i := range candidates {
		id := candidates[i].ID
		if err := s.bookings.ExpireBooking(ctx, id); err != nil {
			s.logger.Error().Err(err).Int64("booking_id", id).Msg("expiry sweep: expire")
			continue
		}
		expired++
		s.logger.Info().Int64("booking_id", id).Msg("booking expired")
	}
	return expired
}
