package negotiation

import (
	"testing"

	"leihsy/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	requesterID = int64(100)
	lenderID    = int64(200)
)

func pendingBooking() models.Booking {
	return models.Booking{
		ID:         1,
		UserID:     requesterID,
		UserName:   "Mara",
		LenderID:   lenderID,
		LenderName: "Depot",
		Status:     models.StatusPending,
	}
}

func TestAnnotateMessage(t *testing.T) {
	t.Run("empty log and empty note", func(t *testing.T) {
		assert.Equal(t, "", AnnotateMessage("", "", "-"))
	})

	t.Run("first note is verbatim", func(t *testing.T) {
		assert.Equal(t, "hello", AnnotateMessage("", "hello", "-"))
	})

	t.Run("markers accumulate most recent first", func(t *testing.T) {
		round1 := AnnotateMessage("hello", "", "-")
		assert.Equal(t, "- hello\n", round1)

		round2 := AnnotateMessage(round1, "", "+")
		assert.Equal(t, "+ - hello\n", round2)
	})

	t.Run("note appended unprefixed", func(t *testing.T) {
		got := AnnotateMessage("hello", "can do Tuesday", "-")
		assert.Equal(t, "- hello\ncan do Tuesday", got)
	})

	t.Run("blank lines dropped", func(t *testing.T) {
		got := AnnotateMessage("hello\n\nworld\n", "ok", "+")
		assert.Equal(t, "+ hello\n+ world\nok", got)
	})
}

func TestPropose(t *testing.T) {
	candidates := []string{"2025-03-01T10:00:00", "2025-03-02T14:00:00"}

	t.Run("lender proposes", func(t *testing.T) {
		b := pendingBooking()
		got, err := Propose(b, lenderID, candidates, "pick one")
		require.NoError(t, err)
		assert.Equal(t, models.EncodeProposedPickups(candidates), got.ProposedPickups)
		assert.Equal(t, lenderID, got.ProposalByID)
		assert.Equal(t, "Depot", got.ProposalByName)
		assert.Equal(t, "pick one", got.Message)
	})

	t.Run("counter proposal flips ownership", func(t *testing.T) {
		b := pendingBooking()
		b, err := Propose(b, lenderID, candidates, "pick one")
		require.NoError(t, err)

		b, err = Propose(b, requesterID, []string{"2025-03-03T09:00:00"}, "neither works")
		require.NoError(t, err)
		assert.Equal(t, requesterID, b.ProposalByID)
		assert.Equal(t, "Mara", b.ProposalByName)
		// lender proposed the previous round, so its line carries '-'
		assert.Equal(t, "- pick one\nneither works", b.Message)
	})

	t.Run("outsider rejected", func(t *testing.T) {
		_, err := Propose(pendingBooking(), 999, candidates, "")
		assert.ErrorIs(t, err, ErrNotParty)
	})

	t.Run("empty candidates rejected", func(t *testing.T) {
		_, err := Propose(pendingBooking(), lenderID, nil, "")
		assert.ErrorIs(t, err, ErrNoCandidates)
	})

	t.Run("malformed candidate rejected", func(t *testing.T) {
		_, err := Propose(pendingBooking(), lenderID, []string{"tomorrow-ish"}, "")
		assert.ErrorIs(t, err, ErrBadCandidate)
	})

	t.Run("closed statuses rejected", func(t *testing.T) {
		for _, status := range []string{models.StatusPickedUp, models.StatusReturned, models.StatusRejected, models.StatusExpired, models.StatusCancelled} {
			b := pendingBooking()
			b.Status = status
			_, err := Propose(b, lenderID, candidates, "")
			assert.ErrorIs(t, err, ErrClosed, status)
		}
	})
}

func TestSelect(t *testing.T) {
	candidates := []string{"2025-03-01T10:00:00", "2025-03-02T14:00:00"}

	proposed := func() models.Booking {
		b := pendingBooking()
		b, err := Propose(b, lenderID, candidates, "")
		require.NoError(t, err)
		return b
	}

	t.Run("requester accepts lender proposal", func(t *testing.T) {
		b, err := Select(proposed(), requesterID, candidates[1], "works for me")
		require.NoError(t, err)
		assert.Equal(t, candidates[1], b.ConfirmedPickup)
		assert.Empty(t, b.ProposedPickups)
		assert.Zero(t, b.ProposalByID)
		assert.Empty(t, b.ProposalByName)
	})

	t.Run("self accept rejected", func(t *testing.T) {
		_, err := Select(proposed(), lenderID, candidates[0], "")
		assert.ErrorIs(t, err, ErrOwnProposal)
	})

	t.Run("both directions of the ownership guard", func(t *testing.T) {
		b := proposed()
		b, err := Propose(b, requesterID, []string{"2025-03-03T09:00:00"}, "")
		require.NoError(t, err)

		_, err = Select(b, requesterID, "2025-03-03T09:00:00", "")
		assert.ErrorIs(t, err, ErrOwnProposal)

		got, err := Select(b, lenderID, "2025-03-03T09:00:00", "")
		require.NoError(t, err)
		assert.Equal(t, "2025-03-03T09:00:00", got.ConfirmedPickup)
	})

	t.Run("date outside proposals rejected", func(t *testing.T) {
		_, err := Select(proposed(), requesterID, "2025-12-24T12:00:00", "")
		assert.ErrorIs(t, err, ErrNotProposed)
	})

	t.Run("outsider rejected", func(t *testing.T) {
		_, err := Select(proposed(), 999, candidates[0], "")
		assert.ErrorIs(t, err, ErrNotParty)
	})

	t.Run("terminal status rejected", func(t *testing.T) {
		b := proposed()
		b.Status = models.StatusCancelled
		_, err := Select(b, requesterID, candidates[0], "")
		assert.ErrorIs(t, err, ErrClosed)
	})
}
