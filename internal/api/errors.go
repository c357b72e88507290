package api

import (
	"errors"
	"net/http"

	"leihsy/internal/database"
	"leihsy/internal/lifecycle"
	"leihsy/internal/negotiation"
	"leihsy/internal/service"
)

// apiError is the wire shape for every failed request. Kind is stable and
// machine-readable; Remediation tells the person holding the phone what to
// do next, which matters most for scanned-code failures.
type apiError struct {
	Kind        string `json:"kind"`
	Error       string `json:"error"`
	Remediation string `json:"remediation,omitempty"`
}

const (
	KindInvalidTransition  = "INVALID_TRANSITION"
	KindInvalidProposal    = "INVALID_PROPOSAL"
	KindTokenNotFound      = "TOKEN_NOT_FOUND"
	KindTokenExpired       = "TOKEN_EXPIRED"
	KindTokenAlreadyUsed   = "TOKEN_ALREADY_USED"
	KindTokenStateMismatch = "TOKEN_STATE_MISMATCH"
	KindUnauthorized       = "UNAUTHORIZED"
	KindValidation         = "VALIDATION"
	KindNotFound           = "NOT_FOUND"
	KindConflict           = "CONFLICT"
	KindInternal           = "INTERNAL"
)

func classifyError(err error) (int, apiError) {
	var invalid *lifecycle.ErrInvalidTransition
	switch {
	case errors.As(err, &invalid),
		errors.Is(err, service.ErrNoProposedPickup),
		errors.Is(err, service.ErrNoConfirmedPickup):
		return http.StatusConflict, apiError{
			Kind:  KindInvalidTransition,
			Error: err.Error(),
		}
	case errors.Is(err, database.ErrBookingNotFound):
		return http.StatusNotFound, apiError{Kind: KindNotFound, Error: err.Error()}
	case errors.Is(err, database.ErrTokenNotFound):
		return http.StatusNotFound, apiError{
			Kind:        KindTokenNotFound,
			Error:       err.Error(),
			Remediation: "This code is not recognized. Ask the lender to generate a new one.",
		}
	case errors.Is(err, database.ErrTokenExpired):
		return http.StatusGone, apiError{
			Kind:        KindTokenExpired,
			Error:       err.Error(),
			Remediation: "This code has expired. Ask the lender to generate a new one.",
		}
	case errors.Is(err, database.ErrTokenAlreadyUsed):
		return http.StatusConflict, apiError{
			Kind:        KindTokenAlreadyUsed,
			Error:       err.Error(),
			Remediation: "This code was already redeemed. No further action is needed.",
		}
	case errors.Is(err, database.ErrTokenStateMismatch):
		return http.StatusConflict, apiError{
			Kind:        KindTokenStateMismatch,
			Error:       err.Error(),
			Remediation: "The booking has moved on since this code was issued. Refresh and try again.",
		}
	case errors.Is(err, database.ErrConcurrentModification):
		return http.StatusConflict, apiError{
			Kind:        KindConflict,
			Error:       err.Error(),
			Remediation: "The booking changed while you were editing it. Reload and retry.",
		}
	case errors.Is(err, negotiation.ErrOwnProposal),
		errors.Is(err, negotiation.ErrNotProposed),
		errors.Is(err, negotiation.ErrNoCandidates),
		errors.Is(err, negotiation.ErrBadCandidate),
		errors.Is(err, negotiation.ErrClosed):
		return http.StatusUnprocessableEntity, apiError{Kind: KindInvalidProposal, Error: err.Error()}
	case errors.Is(err, negotiation.ErrNotParty),
		errors.Is(err, service.ErrNotLender):
		return http.StatusForbidden, apiError{Kind: KindUnauthorized, Error: err.Error()}
	case errors.Is(err, service.ErrMissingRequester),
		errors.Is(err, service.ErrMissingLender),
		errors.Is(err, service.ErrMissingItem),
		errors.Is(err, service.ErrInvalidPeriod),
		errors.Is(err, service.ErrBadTransaction):
		return http.StatusBadRequest, apiError{Kind: KindValidation, Error: err.Error()}
	default:
		return http.StatusInternalServerError, apiError{Kind: KindInternal, Error: "internal error"}
	}
}
