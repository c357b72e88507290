package models

const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusPickedUp  = "PICKED_UP"
	StatusReturned  = "RETURNED"
	StatusRejected  = "REJECTED"
	StatusExpired   = "EXPIRED"
	StatusCancelled = "CANCELLED"
)

// StatusInfo is the canonical presentation mapping for a booking status.
// Every consumer (API responses, exports, notifications) reads this table
// instead of keeping its own copy.
type StatusInfo struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
}

var statusTable = map[string]StatusInfo{
	StatusPending:   {Label: "Pending", Severity: "info"},
	StatusConfirmed: {Label: "Confirmed", Severity: "success"},
	StatusPickedUp:  {Label: "Picked up", Severity: "warn"},
	StatusReturned:  {Label: "Returned", Severity: "success"},
	StatusRejected:  {Label: "Rejected", Severity: "danger"},
	StatusExpired:   {Label: "Expired", Severity: "warn"},
	StatusCancelled: {Label: "Cancelled", Severity: "secondary"},
}

// StatusInfoFor returns the presentation entry for a status. Unknown
// statuses fall back to an info severity with the raw status as label.
func StatusInfoFor(status string) StatusInfo {
	if info, ok := statusTable[status]; ok {
		return info
	}
	return StatusInfo{Label: status, Severity: "info"}
}

// AllStatuses lists the full status vocabulary in lifecycle order.
func AllStatuses() []string {
	return []string{
		StatusPending,
		StatusConfirmed,
		StatusPickedUp,
		StatusReturned,
		StatusRejected,
		StatusExpired,
		StatusCancelled,
	}
}

// IsTerminal reports whether no further transition may leave the status.
func IsTerminal(status string) bool {
	switch status {
	case StatusReturned, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}
