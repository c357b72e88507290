package models

import "time"

const (
	TransactionPickup = "PICKUP"
	TransactionReturn = "RETURN"
)

// TokenTTL bounds the validity of a minted transaction token. Tokens are
// never cleaned up explicitly; expiry alone invalidates them.
const TokenTTL = 15 * time.Minute

// TransactionToken is a single-use credential authorizing one pickup or
// return confirmation via a scanned code. The token string is the whole
// credential; no session is required to redeem it.
type TransactionToken struct {
	ID         int64     `json:"id"`
	BookingID  int64     `json:"bookingId"`
	Token      string    `json:"token"`
	Type       string    `json:"transactionType"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
	ConsumedAt time.Time `json:"consumedAt,omitempty"`
}

// Consumed reports whether the token was already redeemed.
func (t *TransactionToken) Consumed() bool {
	return !t.ConsumedAt.IsZero()
}

// Expired reports whether the token's TTL elapsed at the given instant.
func (t *TransactionToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// RequiredStatus returns the booking status a token of this type expects
// at redemption time.
func (t *TransactionToken) RequiredStatus() string {
	if t.Type == TransactionReturn {
		return StatusPickedUp
	}
	return StatusConfirmed
}
