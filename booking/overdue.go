package booking

import (
	"context"
	"time"

	"github.com/aweist/lab-booking/models"
)

// Overdue returns the reservations whose slot has ended but which have not
// been completed, in input order. A reservation without an end time is
// considered to end at the end of its day. It only reads its input.
func Overdue(reservations []models.Reservation, now time.Time, loc *time.Location) []models.Reservation {
	var overdue []models.Reservation
	for _, r := range reservations {
		if r.Status == models.StatusCompleted {
			continue
		}
		end, ok := SlotEnd(r, loc)
		if ok && !now.Before(end) {
			overdue = append(overdue, r)
		}
	}
	return overdue
}

// SlotEnd returns the wall-clock end of the reservation in loc.
func SlotEnd(r models.Reservation, loc *time.Location) (time.Time, bool) {
	day, err := time.ParseInLocation(dateLayout, r.Date, loc)
	if err != nil {
		return time.Time{}, false
	}

	end := r.EndTime
	if end == "" {
		end = MaxTime
	}
	if !isClockTime(end) {
		return time.Time{}, false
	}

	hour := int(end[0]-'0')*10 + int(end[1]-'0')
	minute := int(end[3]-'0')*10 + int(end[4]-'0')
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), true
}

// Overdue lists reservations that should have been reported by now.
func (s *Service) Overdue(ctx context.Context) ([]models.Reservation, error) {
	reservations, err := s.store.ListReservations(ctx)
	if err != nil {
		return nil, err
	}
	return Overdue(reservations, s.clock.Now(), s.location), nil
}
