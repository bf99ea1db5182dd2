package notifier

import (
	"github.com/aweist/lab-booking/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogNotifier writes overdue reservations to the application log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.With().Str("notifier", "log").Logger()}
}

// NewLogNotifierWith uses the given logger instead of the global one.
func NewLogNotifierWith(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) GetType() string {
	return "log"
}

func (l *LogNotifier) NotifyOverdue(r models.Reservation) error {
	l.logger.Warn().
		Str("reservation_id", r.ID).
		Str("date", r.Date).
		Str("start", r.StartTime).
		Str("end", r.EndTime).
		Str("team", r.Team).
		Str("status", string(r.Status)).
		Msg("reservation is overdue for its usage report")
	return nil
}
