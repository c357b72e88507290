package database

import "errors"

var (
	ErrBookingNotFound        = errors.New("booking not found")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
	ErrTerminalStatus         = errors.New("booking is in a terminal status")

	ErrTokenNotFound      = errors.New("transaction token not found")
	ErrTokenExpired       = errors.New("transaction token expired")
	ErrTokenAlreadyUsed   = errors.New("transaction token already used")
	ErrTokenStateMismatch = errors.New("booking status does not match transaction type")
)
