// Package derive computes read-only projections of a booking: overdue
// flags, due counts and the event timeline. Nothing here mutates state or
// performs I/O; callers pass the clock in.
package derive

import (
	"fmt"
	"time"

	"leihsy/internal/models"
)

// TimelineEvent is one row of the booking history view.
type TimelineEvent struct {
	Label       string    `json:"label"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
}

// IsOverdue reports whether the item is out past the requested end date.
// Only PICKED_UP bookings can be overdue; every other status returns false
// regardless of dates.
func IsOverdue(b *models.Booking, now time.Time) bool {
	return b.Status == models.StatusPickedUp && b.EndDate.Before(now)
}

// DaysOverdue returns how many whole days the booking is past its end
// date, or 0 when it is not overdue.
func DaysOverdue(b *models.Booking, now time.Time) int {
	if !IsOverdue(b, now) {
		return 0
	}
	days := int(now.Sub(b.EndDate).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// IsDueToday reports whether a picked-up booking must come back today.
func IsDueToday(b *models.Booking, now time.Time) bool {
	if b.Status != models.StatusPickedUp {
		return false
	}
	y1, m1, d1 := b.EndDate.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// CountDueToday counts picked-up bookings whose end date falls on today.
func CountDueToday(bookings []models.Booking, now time.Time) int {
	count := 0
	for i := range bookings {
		if IsDueToday(&bookings[i], now) {
			count++
		}
	}
	return count
}

// BuildTimeline produces the ordered history of a booking from its
// populated timestamp fields and current status. Precedence is fixed:
// created, confirmed, distributed, then exactly one terminal event chosen
// by the current status.
func BuildTimeline(b *models.Booking) []TimelineEvent {
	var events []TimelineEvent

	if !b.CreatedAt.IsZero() {
		events = append(events, TimelineEvent{
			Label:       "Created",
			Date:        b.CreatedAt,
			Description: fmt.Sprintf("Booking request by %s", b.UserName),
		})
	}

	switch b.Status {
	case models.StatusConfirmed, models.StatusPickedUp, models.StatusReturned:
		events = append(events, TimelineEvent{
			Label:       "Confirmed",
			Date:        b.UpdatedAt,
			Description: fmt.Sprintf("Confirmed by %s", b.LenderName),
		})
	}

	switch b.Status {
	case models.StatusPickedUp, models.StatusReturned:
		if !b.DistributionDate.IsZero() {
			events = append(events, TimelineEvent{
				Label:       "Distributed",
				Date:        b.DistributionDate,
				Description: "Item picked up",
			})
		}
	}

	switch b.Status {
	case models.StatusReturned:
		if !b.ReturnDate.IsZero() {
			events = append(events, TimelineEvent{
				Label:       "Returned",
				Date:        b.ReturnDate,
				Description: "Item returned",
			})
		}
	case models.StatusRejected:
		events = append(events, TimelineEvent{
			Label:       "Rejected",
			Date:        b.UpdatedAt,
			Description: fmt.Sprintf("Rejected by %s", b.LenderName),
		})
	case models.StatusCancelled:
		events = append(events, TimelineEvent{
			Label:       "Cancelled",
			Date:        b.UpdatedAt,
			Description: "Booking cancelled",
		})
	case models.StatusExpired:
		events = append(events, TimelineEvent{
			Label:       "Expired",
			Date:        b.UpdatedAt,
			Description: "Not picked up in time",
		})
	}

	return events
}
