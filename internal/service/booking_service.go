package service

import (
	"context"
	"errors"
	"time"

	"leihsy/internal/database"
	"leihsy/internal/derive"
	"leihsy/internal/domain"
	"leihsy/internal/events"
	"leihsy/internal/lifecycle"
	"leihsy/internal/metrics"
	"leihsy/internal/models"
	"leihsy/internal/negotiation"

	"github.com/rs/zerolog"
)

var (
	ErrMissingRequester = errors.New("booking requester is required")
	ErrMissingLender    = errors.New("booking lender is required")
	ErrMissingItem      = errors.New("booking item is required")
	ErrInvalidPeriod    = errors.New("booking end date must not precede its start date")

	ErrNoProposedPickup  = errors.New("confirm requires at least one proposed pickup")
	ErrNoConfirmedPickup = errors.New("pickup requires an agreed pickup date")
)

type BookingService struct {
	store      domain.Store
	eventBus   domain.EventPublisher
	syncWorker domain.SyncWorker
	logger     *zerolog.Logger
}

func NewBookingService(store domain.Store, eventBus domain.EventPublisher, syncWorker domain.SyncWorker, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		store:      store,
		eventBus:   eventBus,
		syncWorker: syncWorker,
		logger:     logger,
	}
}

func (s *BookingService) ValidateNewBooking(booking *models.Booking) error {
	if booking.UserID == 0 {
		return ErrMissingRequester
	}
	if booking.LenderID == 0 {
		return ErrMissingLender
	}
	if booking.ItemID == 0 && booking.ItemInvNumber == "" {
		return ErrMissingItem
	}
	if booking.EndDate.Before(booking.StartDate) {
		return ErrInvalidPeriod
	}
	return nil
}

// CreateBooking persists a new request in PENDING, whatever status the
// caller sent.
func (s *BookingService) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if err := s.ValidateNewBooking(booking); err != nil {
		return err
	}

	booking.Status = models.StatusPending
	booking.ConfirmedPickup = ""
	booking.ProposalByID = 0
	booking.ProposalByName = ""

	if err := s.store.CreateBooking(ctx, booking); err != nil {
		return err
	}

	s.publishEvent(events.EventBookingCreated, booking, booking.UserID)
	s.enqueueSync(ctx, booking, "upsert")

	return nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

func (s *BookingService) ListBookings(ctx context.Context) ([]models.Booking, error) {
	return s.store.ListBookings(ctx)
}

func (s *BookingService) ListBookingsByUser(ctx context.Context, userID int64) ([]models.Booking, error) {
	return s.store.ListBookingsByUser(ctx, userID)
}

func (s *BookingService) ListBookingsByLender(ctx context.Context, lenderID int64) ([]models.Booking, error) {
	return s.store.ListBookingsByLender(ctx, lenderID)
}

func (s *BookingService) ListPendingBookings(ctx context.Context) ([]models.Booking, error) {
	return s.store.ListBookingsByStatus(ctx, models.StatusPending)
}

func (s *BookingService) ListOverdueBookings(ctx context.Context) ([]models.Booking, error) {
	return s.store.ListOverdueBookings(ctx, time.Now())
}

// CountDueToday reports how many of the lender's handed-out bookings are
// due back today.
func (s *BookingService) CountDueToday(ctx context.Context, lenderID int64) (int, error) {
	bookings, err := s.store.ListBookingsByLender(ctx, lenderID)
	if err != nil {
		return 0, err
	}
	return derive.CountDueToday(bookings, time.Now()), nil
}

// Transition applies a lifecycle action to the booking. The state machine
// is consulted first so an illegal action fails before the database sees
// it, and again inside the store under the status guard.
func (s *BookingService) Transition(ctx context.Context, bookingID int64, action string, actorID int64) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	next, err := lifecycle.Apply(booking.Status, action)
	if err != nil {
		return nil, err
	}

	// Stateful preconditions the pure table cannot see.
	switch action {
	case lifecycle.ActionConfirm:
		if booking.ConfirmedPickup == "" && len(models.ParseProposedPickups(booking.ProposedPickups)) == 0 {
			return nil, ErrNoProposedPickup
		}
	case lifecycle.ActionPickup:
		if booking.ConfirmedPickup == "" {
			return nil, ErrNoConfirmedPickup
		}
	}

	updated, err := s.store.ApplyTransition(ctx, bookingID, booking.Status, next)
	if err != nil {
		return nil, err
	}

	metrics.IncTransition(action)
	s.publishEvent(eventForAction(action), updated, actorID)
	s.enqueueSync(ctx, updated, "update_status")

	return updated, nil
}

// ProposePickups records a new set of candidate pickup dates from one
// party. The previous exchange is folded into the message log with
// proposer markers.
func (s *BookingService) ProposePickups(ctx context.Context, bookingID, callerID int64, callerName string, candidates []string, note string) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	updated, err := negotiation.Propose(*booking, callerID, candidates, note)
	if err != nil {
		return nil, err
	}
	if callerName != "" {
		updated.ProposalByName = callerName
	}

	if err := s.store.UpdateNegotiation(ctx, &updated); err != nil {
		return nil, err
	}

	reloaded, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	s.publishEvent(events.EventPickupProposed, reloaded, callerID)
	s.enqueueSync(ctx, reloaded, "upsert")

	return reloaded, nil
}

// SelectPickup lets the counterparty accept one of the proposed dates,
// closing the negotiation round.
func (s *BookingService) SelectPickup(ctx context.Context, bookingID, callerID int64, chosen, note string) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	updated, err := negotiation.Select(*booking, callerID, chosen, note)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateNegotiation(ctx, &updated); err != nil {
		return nil, err
	}

	// Agreeing on a date is what confirms a pending booking.
	if booking.Status == models.StatusPending {
		if _, err := s.store.ApplyTransition(ctx, bookingID, models.StatusPending, models.StatusConfirmed); err != nil {
			return nil, err
		}
		metrics.IncTransition(lifecycle.ActionConfirm)
	}

	reloaded, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	s.publishEvent(events.EventPickupSelected, reloaded, callerID)
	s.enqueueSync(ctx, reloaded, "upsert")

	return reloaded, nil
}

func eventForAction(action string) string {
	switch action {
	case lifecycle.ActionConfirm:
		return events.EventBookingConfirmed
	case lifecycle.ActionReject:
		return events.EventBookingRejected
	case lifecycle.ActionCancel:
		return events.EventBookingCancelled
	case lifecycle.ActionPickup:
		return events.EventBookingPickedUp
	case lifecycle.ActionReturn:
		return events.EventBookingReturned
	case lifecycle.ActionExpire:
		return events.EventBookingExpired
	default:
		return "booking_" + action
	}
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, actorID int64) {
	if s.eventBus == nil {
		return
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
		ActorID:         actorID,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, booking *models.Booking, taskType string) {
	if s.syncWorker == nil {
		return
	}

	var status string
	if taskType == "update_status" {
		status = booking.Status
	}

	if err := s.syncWorker.EnqueueTask(ctx, taskType, booking, status); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Str("task", taskType).Msg("sync enqueue error")
	}
}

// ExpireBooking is the sweeper entry point; it tolerates the booking
// having moved on since it was listed as a candidate.
func (s *BookingService) ExpireBooking(ctx context.Context, bookingID int64) error {
	_, err := s.Transition(ctx, bookingID, lifecycle.ActionExpire, 0)
	var invalid *lifecycle.ErrInvalidTransition
	if errors.As(err, &invalid) || errors.Is(err, database.ErrConcurrentModification) {
		return nil
	}
	return err
}
