package booking

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/aweist/lab-booking/models"
	"github.com/aweist/lab-booking/storage"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const dateLayout = "2006-01-02"

// ReservationStore is the part of the document store the lifecycle needs.
type ReservationStore interface {
	ListReservations(ctx context.Context) ([]models.Reservation, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	CreateReservation(ctx context.Context, r models.Reservation) error
	UpdateReservation(ctx context.Context, r models.Reservation, expected models.Status) error
	DeleteReservation(ctx context.Context, id string, expected models.Status) error
}

// TransitionObserver is told about every lifecycle operation and its outcome.
type TransitionObserver interface {
	ObserveTransition(op string, err error)
}

type Service struct {
	store    ReservationStore
	clock    clockwork.Clock
	location *time.Location
	observer TransitionObserver
}

type ServiceConfig struct {
	Store ReservationStore
	Clock clockwork.Clock
	// Location is used to interpret reservation dates and times when deciding
	// whether a reservation is overdue. Defaults to time.Local.
	Location *time.Location
	Observer TransitionObserver
}

func NewService(config ServiceConfig) *Service {
	s := &Service{
		store:    config.Store,
		clock:    config.Clock,
		location: config.Location,
		observer: config.Observer,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.location == nil {
		s.location = time.Local
	}
	return s
}

type CreateRequest struct {
	ID        string `json:"id,omitempty"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Team      string `json:"team"`
}

// AmendRequest carries the fields to change; nil fields are left as they are.
type AmendRequest struct {
	Date      *string `json:"date,omitempty"`
	StartTime *string `json:"startTime,omitempty"`
	EndTime   *string `json:"endTime,omitempty"`
	Team      *string `json:"team,omitempty"`
}

func (s *Service) List(ctx context.Context) ([]models.Reservation, error) {
	return s.store.ListReservations(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Reservation, error) {
	return s.store.GetReservation(ctx, id)
}

// Create books a new slot in the reserved state.
func (s *Service) Create(ctx context.Context, req CreateRequest) (r *models.Reservation, err error) {
	defer s.observe("create", &err)

	if err := validateDate(req.Date); err != nil {
		return nil, err
	}

	if err := ValidateTimeRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	team, err := CleanTeamName(req.Team)
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := s.clock.Now()
	reservation := models.Reservation{
		ID:        id,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Team:      team,
		Status:    models.StatusReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateReservation(ctx, reservation); err != nil {
		return nil, fmt.Errorf("creating reservation: %w", err)
	}

	log.Info().
		Str("reservation_id", id).
		Str("date", req.Date).
		Str("team", team).
		Msg("reservation created")

	return &reservation, nil
}

// BeginUse moves a reserved slot to in-use.
func (s *Service) BeginUse(ctx context.Context, id string) (r *models.Reservation, err error) {
	defer s.observe("begin_use", &err)

	return s.transition(ctx, id, models.StatusReserved, func(r *models.Reservation) error {
		r.Status = models.StatusInUse
		return nil
	})
}

// Complete records the usage report and closes the reservation. The report
// is checked before the stored state, so an incomplete report is always
// reported as such.
func (s *Service) Complete(ctx context.Context, id string, report models.Report) (r *models.Reservation, err error) {
	defer s.observe("complete", &err)

	normalized, err := normalizeReport(report)
	if err != nil {
		return nil, err
	}

	return s.transition(ctx, id, models.StatusInUse, func(r *models.Reservation) error {
		r.Status = models.StatusCompleted
		r.Report = &normalized
		return nil
	})
}

// Cancel deletes a reservation that has not been started.
func (s *Service) Cancel(ctx context.Context, id string) (err error) {
	defer s.observe("cancel", &err)

	current, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return err
	}

	if current.Status != models.StatusReserved {
		return fmt.Errorf("%w: cannot cancel %s reservation %s", ErrInvalidTransition, current.Status, id)
	}

	if err := s.store.DeleteReservation(ctx, id, models.StatusReserved); err != nil {
		return fmt.Errorf("cancelling reservation: %w", err)
	}

	log.Info().Str("reservation_id", id).Msg("reservation cancelled")
	return nil
}

// Amend changes the slot or team of a reservation that has not been
// completed. The resulting time range is validated again.
func (s *Service) Amend(ctx context.Context, id string, req AmendRequest) (r *models.Reservation, err error) {
	defer s.observe("amend", &err)

	current, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status == models.StatusCompleted {
		return nil, fmt.Errorf("%w: reservation %s is completed", ErrInvalidTransition, id)
	}

	updated := *current
	if req.Date != nil {
		updated.Date = *req.Date
	}
	if req.StartTime != nil {
		updated.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		updated.EndTime = *req.EndTime
	}
	if req.Team != nil {
		if updated.Team, err = CleanTeamName(*req.Team); err != nil {
			return nil, err
		}
	}

	if err := validateDate(updated.Date); err != nil {
		return nil, err
	}
	if err := ValidateTimeRange(updated.StartTime, updated.EndTime); err != nil {
		return nil, err
	}

	return s.write(ctx, updated, current.Status, "amended")
}

// transition applies mutate to the reservation if it is currently in from,
// and writes it back on condition that nobody changed the status meanwhile.
func (s *Service) transition(ctx context.Context, id string, from models.Status, mutate func(*models.Reservation) error) (*models.Reservation, error) {
	current, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status != from {
		return nil, fmt.Errorf("%w: reservation %s is %s, expected %s", ErrInvalidTransition, id, current.Status, from)
	}

	updated := *current
	if err := mutate(&updated); err != nil {
		return nil, err
	}

	return s.write(ctx, updated, from, string(updated.Status))
}

func (s *Service) write(ctx context.Context, r models.Reservation, expected models.Status, what string) (*models.Reservation, error) {
	r.UpdatedAt = s.clock.Now()

	if err := s.store.UpdateReservation(ctx, r, expected); err != nil {
		return nil, fmt.Errorf("updating reservation: %w", err)
	}

	log.Info().
		Str("reservation_id", r.ID).
		Str("status", string(r.Status)).
		Msgf("reservation %s", what)

	return &r, nil
}

func (s *Service) observe(op string, err *error) {
	if s.observer != nil {
		s.observer.ObserveTransition(op, *err)
	}
	if *err != nil {
		log.Debug().Err(*err).Str("op", op).Msg("reservation operation rejected")
	}
}

// CleanTeamName trims name and rejects blank names and names with control
// characters. Team names end up in mail headers and calendar lines.
func CleanTeamName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrMissingTeam
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTeamName, name)
	}
	return name, nil
}

func validateDate(date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

func normalizeReport(report models.Report) (models.Report, error) {
	var participants []string
	for _, p := range report.Participants {
		if p = strings.TrimSpace(p); p != "" {
			participants = append(participants, p)
		}
	}

	if len(participants) == 0 {
		return models.Report{}, fmt.Errorf("%w: at least one participant is required", ErrIncompleteReport)
	}

	if report.Shots < 1 {
		return models.Report{}, fmt.Errorf("%w: shots must be at least 1", ErrIncompleteReport)
	}

	temps := make([]models.TemporaryMember, 0, len(report.TemporaryMembers))
	for _, m := range report.TemporaryMembers {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return models.Report{}, fmt.Errorf("%w: temporary member needs a name", ErrIncompleteReport)
		}
		if m.ID == "" {
			m.ID = "temp-" + uuid.NewString()
		}
		temps = append(temps, m)
	}
	if len(temps) == 0 {
		temps = nil
	}

	report.Participants = participants
	report.TemporaryMembers = temps
	return report, nil
}

var _ ReservationStore = (storage.Store)(nil)
