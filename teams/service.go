package teams

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aweist/lab-booking/booking"
	"github.com/aweist/lab-booking/models"
	"github.com/aweist/lab-booking/teamcolor"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingName      = fmt.Errorf("%w: team name is required", booking.ErrValidation)
	ErrIncompleteMember = fmt.Errorf("%w: member name and student id are required", booking.ErrValidation)
)

type TeamStore interface {
	ListTeams(ctx context.Context) ([]models.Team, error)
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	GetTeamByName(ctx context.Context, name string) (*models.Team, error)
	CreateTeam(ctx context.Context, t models.Team) error
	UpdateTeam(ctx context.Context, t models.Team) error
	DeleteTeam(ctx context.Context, id string) error
}

type Service struct {
	store  TeamStore
	colors *teamcolor.Resolver
	clock  clockwork.Clock
}

type ServiceConfig struct {
	Store  TeamStore
	Colors *teamcolor.Resolver
	Clock  clockwork.Clock
}

func NewService(config ServiceConfig) *Service {
	s := &Service{
		store:  config.Store,
		colors: config.Colors,
		clock:  config.Clock,
	}
	if s.colors == nil {
		s.colors = teamcolor.NewResolver(teamcolor.DefaultPalette)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s
}

// UpdateRequest carries the fields to change; nil fields are left as they are.
type UpdateRequest struct {
	Name  *string       `json:"name,omitempty"`
	Color *models.Color `json:"color,omitempty"`
}

func (s *Service) List(ctx context.Context) ([]models.Team, error) {
	return s.store.ListTeams(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Team, error) {
	return s.store.GetTeam(ctx, id)
}

func (s *Service) GetByName(ctx context.Context, name string) (*models.Team, error) {
	return s.store.GetTeamByName(ctx, strings.TrimSpace(name))
}

// Create adds a team. Without an explicit colour the team gets the colour it
// already resolves to, so existing reservations keep their look.
func (s *Service) Create(ctx context.Context, name string, color *models.Color) (*models.Team, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	c := s.colors.Resolve(name, color)
	now := s.clock.Now()
	team := models.Team{
		ID:        uuid.NewString(),
		Name:      name,
		Members:   []models.TeamMember{},
		Color:     &c,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateTeam(ctx, team); err != nil {
		return nil, fmt.Errorf("creating team: %w", err)
	}

	log.Info().Str("team_id", team.ID).Str("team", name).Msg("team created")
	return &team, nil
}

// Update renames and/or recolours a team. Reservations store the team name,
// so the old name keeps resolving to the team's colour after a rename.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*models.Team, error) {
	team, err := s.store.GetTeam(ctx, id)
	if err != nil {
		return nil, err
	}

	oldName := team.Name
	if req.Name != nil {
		if team.Name, err = cleanName(*req.Name); err != nil {
			return nil, err
		}
	}
	if req.Color != nil {
		team.Color = req.Color
	}
	team.UpdatedAt = s.clock.Now()

	if err := s.store.UpdateTeam(ctx, *team); err != nil {
		return nil, fmt.Errorf("updating team: %w", err)
	}

	if team.Name != oldName {
		c := s.colors.Rename(oldName, team.Name, team.Color)
		team.Color = &c
		log.Info().Str("team_id", id).Str("from", oldName).Str("to", team.Name).Msg("team renamed")
	} else if team.Color != nil {
		s.colors.Resolve(team.Name, team.Color)
	}

	return team, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteTeam(ctx, id); err != nil {
		return fmt.Errorf("deleting team: %w", err)
	}
	log.Info().Str("team_id", id).Msg("team deleted")
	return nil
}

func (s *Service) AddMember(ctx context.Context, teamID, name, studentID string) (*models.Team, error) {
	name = strings.TrimSpace(name)
	studentID = strings.TrimSpace(studentID)
	if name == "" || studentID == "" {
		return nil, ErrIncompleteMember
	}

	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	team.Members = append(team.Members, models.TeamMember{
		ID:        uuid.NewString(),
		Name:      name,
		StudentID: studentID,
	})
	team.UpdatedAt = s.clock.Now()

	if err := s.store.UpdateTeam(ctx, *team); err != nil {
		return nil, fmt.Errorf("adding member: %w", err)
	}
	return team, nil
}

func (s *Service) RemoveMember(ctx context.Context, teamID, memberID string) (*models.Team, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	members := team.Members[:0]
	for _, m := range team.Members {
		if m.ID != memberID {
			members = append(members, m)
		}
	}
	if len(members) == len(team.Members) {
		return team, nil
	}
	team.Members = members
	team.UpdatedAt = s.clock.Now()

	if err := s.store.UpdateTeam(ctx, *team); err != nil {
		return nil, fmt.Errorf("removing member: %w", err)
	}
	return team, nil
}

// Colors resolves every team with its stored colour, plus any extra names
// such as teams that only survive in old reservations.
func (s *Service) Colors(ctx context.Context, extra ...string) (map[string]models.Color, error) {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.Color, len(teams)+len(extra))
	for _, t := range teams {
		out[t.Name] = s.colors.Resolve(t.Name, t.Color)
	}
	for _, name := range extra {
		if _, ok := out[name]; !ok {
			out[name] = s.colors.Resolve(name, nil)
		}
	}
	return out, nil
}

// RebuildColors replaces the colour cache with the stored team colours.
func (s *Service) RebuildColors(ctx context.Context) error {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return err
	}
	s.colors.Rebuild(teams)
	log.Debug().Int("teams", len(teams)).Msg("team colour cache rebuilt")
	return nil
}

// Directory loads every team into a member lookup.
func (s *Service) Directory(ctx context.Context) (*Directory, error) {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	return NewDirectory(teams), nil
}

func cleanName(name string) (string, error) {
	name, err := booking.CleanTeamName(name)
	if errors.Is(err, booking.ErrMissingTeam) {
		return "", ErrMissingName
	}
	return name, err
}
