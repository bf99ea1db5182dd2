package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aweist/lab-booking/models"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrConflict    = errors.New("record was modified concurrently")
	ErrUnavailable = errors.New("store unavailable")
	ErrTeamExists  = errors.New("team name already exists")
)

const DefaultTimeout = 5 * time.Second

// Store is the document store behind reservations and teams. Writes to a
// reservation are conditional on the status the caller last observed, so two
// clients racing on the same record cannot silently overwrite each other.
type Store interface {
	ListReservations(ctx context.Context) ([]models.Reservation, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	CreateReservation(ctx context.Context, r models.Reservation) error
	// UpdateReservation replaces the stored reservation with r if its
	// persisted status still equals expected.
	UpdateReservation(ctx context.Context, r models.Reservation, expected models.Status) error
	DeleteReservation(ctx context.Context, id string, expected models.Status) error

	ListTeams(ctx context.Context) ([]models.Team, error)
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	GetTeamByName(ctx context.Context, name string) (*models.Team, error)
	CreateTeam(ctx context.Context, t models.Team) error
	UpdateTeam(ctx context.Context, t models.Team) error
	DeleteTeam(ctx context.Context, id string) error

	Close() error
}

// Open returns the store for the configured driver.
func Open(driver, path string, timeout time.Duration) (Store, error) {
	switch driver {
	case "", "bolt":
		s, err := NewBoltStorage(path, timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLiteStorage(path, timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func conflict(id string, expected, actual models.Status) error {
	return fmt.Errorf("%w: reservation %s is %s, expected %s", ErrConflict, id, actual, expected)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// withTimeout runs fn bounded by timeout and the caller's context. Work that
// becomes visible to other readers must be preceded by a call to commit: once
// the deadline has passed commit fails and fn has to roll back, and once
// commit succeeded withTimeout waits for fn rather than report a timeout for
// a write that went through.
func withTimeout(ctx context.Context, timeout time.Duration, fn func(commit func() error) error) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}

	const (
		running int32 = iota
		committing
		abandoned
	)
	var state atomic.Int32

	commit := func() error {
		if !state.CompareAndSwap(running, committing) {
			return unavailable(ctx.Err())
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(commit)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(running, abandoned) {
			return unavailable(ctx.Err())
		}
		return <-done
	}
}
