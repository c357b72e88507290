package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"leihsy/internal/lifecycle"
	"leihsy/internal/models"
)

func (db *DB) CreateToken(ctx context.Context, token *models.TransactionToken) error {
	query := `INSERT INTO transactions (booking_id, token, transaction_type, expires_at, created_at)
              VALUES (?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		token.BookingID, token.Token, token.Type, token.ExpiresAt, now)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	token.ID = id
	token.CreatedAt = now
	return nil
}

func (db *DB) GetToken(ctx context.Context, tokenStr string) (*models.TransactionToken, error) {
	query := `SELECT id, booking_id, token, transaction_type, expires_at, created_at, consumed_at
              FROM transactions WHERE token = ?`
	t, err := scanToken(db.QueryRowContext(ctx, query, tokenStr))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

func scanToken(row rowScanner) (*models.TransactionToken, error) {
	var t models.TransactionToken
	var consumed sql.NullTime
	err := row.Scan(&t.ID, &t.BookingID, &t.Token, &t.Type, &t.ExpiresAt, &t.CreatedAt, &consumed)
	if err != nil {
		return nil, err
	}
	if consumed.Valid {
		t.ConsumedAt = consumed.Time
	}
	return &t, nil
}

// RedeemToken performs the whole check-and-consume in one sqlite
// transaction: the consume UPDATE is guarded on consumed_at IS NULL, so
// two concurrent redemptions of the same token cannot both pass. The
// lifecycle action implied by the token type is applied with a status
// compare-and-set inside the same transaction. On success the consumed
// token is returned with the booking, so callers do not need a second
// lookup to learn which transaction this was.
func (db *DB) RedeemToken(ctx context.Context, tokenStr string, now time.Time) (*models.Booking, *models.TransactionToken, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT id, booking_id, token, transaction_type, expires_at, created_at, consumed_at
              FROM transactions WHERE token = ?`
	token, err := scanToken(tx.QueryRowContext(ctx, query, tokenStr))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load token: %w", err)
	}

	if token.Consumed() {
		return nil, nil, ErrTokenAlreadyUsed
	}
	if token.Expired(now) {
		return nil, nil, ErrTokenExpired
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE transactions SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`, now, token.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consume token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil, ErrTokenAlreadyUsed
	}

	action := lifecycle.ActionPickup
	if token.Type == models.TransactionReturn {
		action = lifecycle.ActionReturn
	}

	required := token.RequiredStatus()
	next, err := lifecycle.Apply(required, action)
	if err != nil {
		return nil, nil, fmt.Errorf("token type %q maps to no transition: %w", token.Type, err)
	}

	booking, err := db.applyTransition(ctx, tx, token.BookingID, required, next)
	if errors.Is(err, ErrConcurrentModification) {
		// The booking moved away from the status this token was minted
		// for; the consume is rolled back with the transaction.
		return nil, nil, ErrTokenStateMismatch
	}
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit redemption: %w", err)
	}
	token.ConsumedAt = now
	return booking, token, nil
}
