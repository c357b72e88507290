package models

import (
	"encoding/json"
	"strings"
	"time"
)

// PickupTimeLayout is the wire format for pickup date-times. The backend
// stores local date-times without a zone suffix.
const PickupTimeLayout = "2006-01-02T15:04:05"

// Booking is the canonical rental record. It is always replaced wholesale
// with the authoritative server copy after a mutation, never patched.
type Booking struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"userId"`
	UserName         string    `json:"userName"`
	LenderID         int64     `json:"lenderId"`
	LenderName       string    `json:"lenderName"`
	ItemID           int64     `json:"itemId"`
	ItemInvNumber    string    `json:"itemInvNumber"`
	ProductID        int64     `json:"productId"`
	ProductName      string    `json:"productName"`
	ProposalByID     int64     `json:"proposalById"`
	ProposalByName   string    `json:"proposalByName"`
	Message          string    `json:"message"`
	Status           string    `json:"status"`
	StartDate        time.Time `json:"startDate"`
	EndDate          time.Time `json:"endDate"`
	ProposedPickups  string    `json:"proposedPickups"`
	ConfirmedPickup  string    `json:"confirmedPickup"`
	DistributionDate time.Time `json:"distributionDate"`
	ReturnDate       time.Time `json:"returnDate"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Version          int64     `json:"version"`
}

// IsParty reports whether the given user id is the requester or the lender.
func (b *Booking) IsParty(userID int64) bool {
	return userID == b.UserID || userID == b.LenderID
}

// CounterpartyID returns the other side of the negotiation.
func (b *Booking) CounterpartyID(userID int64) int64 {
	if userID == b.UserID {
		return b.LenderID
	}
	return b.UserID
}

// ParseProposedPickups decodes the persisted proposed-pickups string.
// The backend writes a JSON array; older records are comma-separated.
func ParseProposedPickups(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return parsed
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// EncodeProposedPickups serializes candidate pickups as a JSON array string.
func EncodeProposedPickups(pickups []string) string {
	if len(pickups) == 0 {
		return ""
	}
	data, err := json.Marshal(pickups)
	if err != nil {
		return ""
	}
	return string(data)
}
