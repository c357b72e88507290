package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"leihsy/internal/models"
)

const bookingColumns = `id, user_id, user_name, lender_id, lender_name, item_id, item_inv_number,
        product_id, product_name, proposal_by_id, proposal_by_name, message, status,
        start_date, end_date, proposed_pickups, confirmed_pickup,
        distribution_date, return_date, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var distribution, returned sql.NullTime

	err := row.Scan(
		&b.ID, &b.UserID, &b.UserName, &b.LenderID, &b.LenderName, &b.ItemID, &b.ItemInvNumber,
		&b.ProductID, &b.ProductName, &b.ProposalByID, &b.ProposalByName, &b.Message, &b.Status,
		&b.StartDate, &b.EndDate, &b.ProposedPickups, &b.ConfirmedPickup,
		&distribution, &returned, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	if distribution.Valid {
		b.DistributionDate = distribution.Time
	}
	if returned.Valid {
		b.ReturnDate = returned.Time
	}
	return &b, nil
}

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	query := `INSERT INTO bookings (
                user_id, user_name, lender_id, lender_name, item_id, item_inv_number,
                product_id, product_name, proposal_by_id, proposal_by_name, message, status,
                start_date, end_date, proposed_pickups, confirmed_pickup,
                created_at, updated_at, version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	if booking.Status == "" {
		booking.Status = models.StatusPending
	}
	result, err := db.ExecContext(ctx, query,
		booking.UserID,
		booking.UserName,
		booking.LenderID,
		booking.LenderName,
		booking.ItemID,
		booking.ItemInvNumber,
		booking.ProductID,
		booking.ProductName,
		booking.ProposalByID,
		booking.ProposalByName,
		booking.Message,
		booking.Status,
		booking.StartDate,
		booking.EndDate,
		booking.ProposedPickups,
		booking.ConfirmedPickup,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (db *DB) listBookings(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return bookings, nil
}

func (db *DB) ListBookings(ctx context.Context) ([]models.Booking, error) {
	return db.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY created_at DESC, id DESC`)
}

func (db *DB) ListBookingsByUser(ctx context.Context, userID int64) ([]models.Booking, error) {
	return db.listBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

func (db *DB) ListBookingsByLender(ctx context.Context, lenderID int64) ([]models.Booking, error) {
	return db.listBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE lender_id = ? ORDER BY created_at DESC, id DESC`, lenderID)
}

func (db *DB) ListBookingsByStatus(ctx context.Context, status string) ([]models.Booking, error) {
	return db.listBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = ? ORDER BY created_at DESC, id DESC`, status)
}

// ListOverdueBookings returns picked-up bookings past their end date.
func (db *DB) ListOverdueBookings(ctx context.Context, now time.Time) ([]models.Booking, error) {
	return db.listBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = ? AND end_date < ? ORDER BY end_date ASC`,
		models.StatusPickedUp, now)
}

// ListExpiryCandidates returns confirmed bookings whose confirmed pickup
// elapsed before the cutoff without a recorded distribution.
func (db *DB) ListExpiryCandidates(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	return db.listBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings
         WHERE status = ? AND confirmed_pickup != '' AND confirmed_pickup < ? AND distribution_date IS NULL`,
		models.StatusConfirmed, cutoff.Format(models.PickupTimeLayout))
}

// UpdateNegotiation persists the proposal fields computed by the
// negotiation package. The version check guards against a concurrent
// round on the same booking.
func (db *DB) UpdateNegotiation(ctx context.Context, b *models.Booking) error {
	query := `UPDATE bookings
              SET message = ?, proposed_pickups = ?, confirmed_pickup = ?,
                  proposal_by_id = ?, proposal_by_name = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND version = ?`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		b.Message, b.ProposedPickups, b.ConfirmedPickup,
		b.ProposalByID, b.ProposalByName, now,
		b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update negotiation state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConcurrentModification
	}
	b.UpdatedAt = now
	b.Version++
	return nil
}

// ApplyTransition moves a booking from one status to another with a
// compare-and-set on the current status. Distribution and return
// timestamps are recorded exactly once, on the transition that reaches
// PICKED_UP and RETURNED respectively.
func (db *DB) ApplyTransition(ctx context.Context, id int64, from, to string) (*models.Booking, error) {
	return db.applyTransition(ctx, db.DB, id, from, to)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) applyTransition(ctx context.Context, ex execer, id int64, from, to string) (*models.Booking, error) {
	now := time.Now()

	query := `UPDATE bookings SET status = ?, updated_at = ?, version = version + 1`
	args := []any{to, now}
	switch to {
	case models.StatusPickedUp:
		query += `, distribution_date = ?`
		args = append(args, now)
	case models.StatusReturned:
		query += `, return_date = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	result, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to apply transition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrConcurrentModification
	}

	b, err := scanBooking(ex.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reload booking: %w", err)
	}
	return b, nil
}
