package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/aweist/lab-booking/models"
	"github.com/aweist/lab-booking/notifier"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 10 * time.Minute

// OverdueSource lists the reservations that should have been reported.
type OverdueSource interface {
	Overdue(ctx context.Context) ([]models.Reservation, error)
}

// Housekeeper is anything that wants to drop expired in-memory state on
// every sweep, such as the authentication throttle.
type Housekeeper interface {
	Sweep() int
}

type SweepObserver interface {
	ObserveSweep(overdue int, err error)
}

// Sweeper periodically looks for overdue reservations and notifies about
// each one once. It never writes to the store.
type Sweeper struct {
	source       OverdueSource
	notifiers    []notifier.Notifier
	housekeepers []Housekeeper
	observer     SweepObserver
	interval     time.Duration
	clock        clockwork.Clock

	mu       sync.Mutex
	notified map[string]bool
}

type SweeperConfig struct {
	Source       OverdueSource
	Notifiers    []notifier.Notifier
	Housekeepers []Housekeeper
	Observer     SweepObserver
	Interval     time.Duration
	Clock        clockwork.Clock
}

func NewSweeper(config SweeperConfig) *Sweeper {
	s := &Sweeper{
		source:       config.Source,
		notifiers:    config.Notifiers,
		housekeepers: config.Housekeepers,
		observer:     config.Observer,
		interval:     config.Interval,
		clock:        config.Clock,
		notified:     make(map[string]bool),
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s
}

// Start sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("starting overdue sweeper")

	s.sweep(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("overdue sweeper stopped")
			return
		case <-ticker.Chan():
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("overdue sweep failed")
	}
}

// RunOnce performs a single sweep and returns the reservations that are
// overdue right now. Notifications go out only for reservations that were
// not already reported by an earlier sweep.
func (s *Sweeper) RunOnce(ctx context.Context) ([]models.Reservation, error) {
	for _, h := range s.housekeepers {
		if n := h.Sweep(); n > 0 {
			log.Debug().Int("removed", n).Msg("expired entries dropped")
		}
	}

	overdue, err := s.source.Overdue(ctx)
	if s.observer != nil {
		s.observer.ObserveSweep(len(overdue), err)
	}
	if err != nil {
		return nil, err
	}

	fresh := s.track(overdue)

	for _, r := range fresh {
		for _, n := range s.notifiers {
			if err := n.NotifyOverdue(r); err != nil {
				log.Error().Err(err).
					Str("notifier", n.GetType()).
					Str("reservation_id", r.ID).
					Msg("error sending overdue notification")
			}
		}
	}

	if len(fresh) > 0 {
		log.Info().Int("overdue", len(overdue)).Int("new", len(fresh)).Msg("overdue reservations found")
	} else {
		log.Debug().Int("overdue", len(overdue)).Msg("no new overdue reservations")
	}

	return overdue, nil
}

// track records the current overdue set and returns the entries not seen
// before. Reservations that are no longer overdue are forgotten.
func (s *Sweeper) track(overdue []models.Reservation) []models.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool, len(overdue))
	var fresh []models.Reservation
	for _, r := range overdue {
		current[r.ID] = true
		if !s.notified[r.ID] {
			fresh = append(fresh, r)
		}
	}
	s.notified = current
	return fresh
}
