// Package negotiation implements the pickup date ping-pong between the
// requester and the lender. All functions are pure: they validate against
// a booking snapshot and return an updated copy, leaving persistence to
// the service layer. Both the user-facing and the admin-facing flows call
// through here so the proposal-ownership logic exists exactly once.
package negotiation

import (
	"errors"
	"strings"
	"time"

	"leihsy/internal/models"
)

var (
	// ErrNotParty rejects callers that are neither requester nor lender.
	ErrNotParty = errors.New("caller is not a party of this booking")
	// ErrClosed rejects negotiation on bookings past CONFIRMED.
	ErrClosed = errors.New("booking is closed for negotiation")
	// ErrNoCandidates rejects a proposal without any candidate dates.
	ErrNoCandidates = errors.New("at least one candidate pickup is required")
	// ErrBadCandidate rejects candidate dates that do not parse.
	ErrBadCandidate = errors.New("candidate pickup has invalid format")
	// ErrOwnProposal rejects a party accepting its own proposal.
	ErrOwnProposal = errors.New("cannot accept own proposal")
	// ErrNotProposed rejects selecting a date outside the current proposals.
	ErrNotProposed = errors.New("selected pickup is not among proposed dates")
)

// Markers prefixed onto prior message lines, one per negotiation round,
// most recent first. '+' marks a round whose proposer was the requester,
// '-' one whose proposer was the lender.
const (
	markerRequester = "+"
	markerLender    = "-"
)

// AnnotateMessage folds a new note into the negotiation log. Existing
// non-empty lines each gain one marker identifying the proposer of the
// round they belonged to; the new note is appended unprefixed. A first
// note on an empty log is stored verbatim.
func AnnotateMessage(existing, note, marker string) string {
	if strings.TrimSpace(existing) == "" {
		return note
	}

	var lines []string
	for _, line := range strings.Split(existing, "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, marker+" "+line)
	}

	return strings.Join(lines, "\n") + "\n" + note
}

// markerFor maps the previous proposer to the line marker.
func markerFor(b *models.Booking) string {
	if b.ProposalByID == b.UserID {
		return markerRequester
	}
	return markerLender
}

// Propose replaces the candidate pickup set and hands the proposal over to
// the caller. Valid while the booking is PENDING or CONFIRMED and the
// caller is one of the two parties.
func Propose(b models.Booking, callerID int64, candidates []string, note string) (models.Booking, error) {
	if b.Status != models.StatusPending && b.Status != models.StatusConfirmed {
		return b, ErrClosed
	}
	if !b.IsParty(callerID) {
		return b, ErrNotParty
	}
	if len(candidates) == 0 {
		return b, ErrNoCandidates
	}
	for _, c := range candidates {
		if _, err := time.Parse(models.PickupTimeLayout, c); err != nil {
			return b, ErrBadCandidate
		}
	}

	b.Message = AnnotateMessage(b.Message, note, markerFor(&b))
	b.ProposedPickups = models.EncodeProposedPickups(candidates)
	b.ProposalByID = callerID
	if callerID == b.UserID {
		b.ProposalByName = b.UserName
	} else {
		b.ProposalByName = b.LenderName
	}
	return b, nil
}

// Select accepts one of the currently proposed pickups. The caller must
// not be the party that proposed them; this guard is enforced here, not
// just hidden in the UI. The open proposal state is cleared, leaving no
// pending round. Callers handle the PENDING -> CONFIRMED transition that
// a successful selection triggers.
func Select(b models.Booking, callerID int64, chosen, note string) (models.Booking, error) {
	if b.Status != models.StatusPending && b.Status != models.StatusConfirmed {
		return b, ErrClosed
	}
	if !b.IsParty(callerID) {
		return b, ErrNotParty
	}
	if callerID == b.ProposalByID {
		return b, ErrOwnProposal
	}

	found := false
	for _, p := range models.ParseProposedPickups(b.ProposedPickups) {
		if p == chosen {
			found = true
			break
		}
	}
	if !found {
		return b, ErrNotProposed
	}

	b.Message = AnnotateMessage(b.Message, note, markerFor(&b))
	b.ConfirmedPickup = chosen
	b.ProposedPickups = ""
	b.ProposalByID = 0
	b.ProposalByName = ""
	return b, nil
}
