package domain

import (
	"context"
	"time"

	"leihsy/internal/models"
)

// Store is the authoritative persistence boundary for bookings and
// transaction tokens. Implemented by the sqlite database; services never
// change state except through it.
type Store interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context) ([]models.Booking, error)
	ListBookingsByUser(ctx context.Context, userID int64) ([]models.Booking, error)
	ListBookingsByLender(ctx context.Context, lenderID int64) ([]models.Booking, error)
	ListBookingsByStatus(ctx context.Context, status string) ([]models.Booking, error)
	ListOverdueBookings(ctx context.Context, now time.Time) ([]models.Booking, error)
	ListExpiryCandidates(ctx context.Context, cutoff time.Time) ([]models.Booking, error)
	UpdateNegotiation(ctx context.Context, booking *models.Booking) error
	ApplyTransition(ctx context.Context, id int64, from, to string) (*models.Booking, error)

	CreateToken(ctx context.Context, token *models.TransactionToken) error
	GetToken(ctx context.Context, token string) (*models.TransactionToken, error)
	RedeemToken(ctx context.Context, token string, now time.Time) (*models.Booking, *models.TransactionToken, error)
}

// TokenCache mirrors minted tokens so an open QR dialog can be restored
// without re-minting. It is best-effort; the sqlite store stays
// authoritative for consumption.
type TokenCache interface {
	GetActive(ctx context.Context, bookingID int64, tokenType string) (*models.TransactionToken, error)
	Put(ctx context.Context, token *models.TransactionToken) error
	Invalidate(ctx context.Context, bookingID int64, tokenType string) error
}

// EventPublisher decouples services from event delivery.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// SyncWorker receives booking changes destined for the sheets mirror.
type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, booking *models.Booking, status string) error
}
