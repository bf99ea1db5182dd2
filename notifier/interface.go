package notifier

import (
	"github.com/aweist/lab-booking/models"
)

// Notifier tells someone that a reservation has ended without a usage report.
type Notifier interface {
	NotifyOverdue(r models.Reservation) error
	GetType() string
}
