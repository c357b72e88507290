// Package lifecycle holds the booking state machine. It is pure: no I/O,
// no clock, no store. The service layer consults it before any network or
// database work so illegal transitions fail without a round-trip.
package lifecycle

import (
	"fmt"

	"leihsy/internal/models"
)

const (
	ActionConfirm = "confirm"
	ActionReject  = "reject"
	ActionCancel  = "cancel"
	ActionPickup  = "pickup"
	ActionReturn  = "return"
	ActionExpire  = "expire"
)

// ErrInvalidTransition is returned for every (status, action) pair outside
// the transition table.
type ErrInvalidTransition struct {
	Status string
	Action string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: action %q not allowed in status %q", e.Action, e.Status)
}

// transitions maps current status -> action -> resulting status.
// Terminal statuses have no entry at all.
var transitions = map[string]map[string]string{
	models.StatusPending: {
		ActionConfirm: models.StatusConfirmed,
		ActionReject:  models.StatusRejected,
		ActionCancel:  models.StatusCancelled,
	},
	models.StatusConfirmed: {
		ActionPickup: models.StatusPickedUp,
		ActionReject: models.StatusRejected,
		ActionCancel: models.StatusCancelled,
		ActionExpire: models.StatusExpired,
	},
	models.StatusPickedUp: {
		ActionReturn: models.StatusReturned,
	},
}

// AllActions lists every lifecycle action.
func AllActions() []string {
	return []string{ActionConfirm, ActionReject, ActionCancel, ActionPickup, ActionReturn, ActionExpire}
}

// CanTransition reports whether action is legal in the given status.
func CanTransition(status, action string) bool {
	actions, ok := transitions[status]
	if !ok {
		return false
	}
	_, ok = actions[action]
	return ok
}

// Apply returns the status reached by performing action in the given
// status, or ErrInvalidTransition.
func Apply(status, action string) (string, error) {
	actions, ok := transitions[status]
	if !ok {
		return "", &ErrInvalidTransition{Status: status, Action: action}
	}
	next, ok := actions[action]
	if !ok {
		return "", &ErrInvalidTransition{Status: status, Action: action}
	}
	return next, nil
}

// AllowedActions returns the actions legal in the given status, in a fixed
// order. Drives which operations the UI enables.
func AllowedActions(status string) []string {
	actions, ok := transitions[status]
	if !ok {
		return nil
	}
	var out []string
	for _, a := range AllActions() {
		if _, ok := actions[a]; ok {
			out = append(out, a)
		}
	}
	return out
}
