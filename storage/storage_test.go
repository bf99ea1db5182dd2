package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aweist/lab-booking/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	dir := t.TempDir()
	stores := map[string]Store{}

	boltStore, err := NewBoltStorage(filepath.Join(dir, "booking.db"), time.Second)
	require.NoError(t, err)
	stores["bolt"] = boltStore

	sqlite, err := NewSQLiteStorage(filepath.Join(dir, "booking.sqlite"), time.Second)
	require.NoError(t, err)
	stores["sqlite"] = sqlite

	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})

	return stores
}

func testReservation(id string, status models.Status) models.Reservation {
	now := time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)
	return models.Reservation{
		ID:        id,
		Date:      "2024-10-15",
		StartTime: "10:00",
		EndTime:   "12:00",
		Team:      "第一研究班",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_ReservationRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			r := testReservation("r1", models.StatusReserved)
			require.NoError(t, s.CreateReservation(ctx, r))

			got, err := s.GetReservation(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, r.Team, got.Team)
			assert.Equal(t, models.StatusReserved, got.Status)
			assert.Nil(t, got.Report)
			assert.True(t, r.CreatedAt.Equal(got.CreatedAt))

			err = s.CreateReservation(ctx, r)
			assert.ErrorIs(t, err, ErrConflict)

			list, err := s.ListReservations(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestStore_GetMissingReservation(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetReservation(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ConditionalUpdate(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateReservation(ctx, testReservation("r1", models.StatusReserved)))

			inUse := testReservation("r1", models.StatusInUse)
			require.NoError(t, s.UpdateReservation(ctx, inUse, models.StatusReserved))

			// A second writer that still believes the record is reserved loses.
			stale := testReservation("r1", models.StatusInUse)
			stale.Team = "第二研究班"
			err := s.UpdateReservation(ctx, stale, models.StatusReserved)
			assert.ErrorIs(t, err, ErrConflict)

			got, err := s.GetReservation(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, "第一研究班", got.Team)

			completed := testReservation("r1", models.StatusCompleted)
			completed.Report = &models.Report{Participants: []string{"A"}, Shots: 5}
			require.NoError(t, s.UpdateReservation(ctx, completed, models.StatusInUse))

			got, err = s.GetReservation(ctx, "r1")
			require.NoError(t, err)
			report, ok := got.Completion()
			require.True(t, ok)
			assert.Equal(t, 5, report.Shots)

			err = s.UpdateReservation(ctx, testReservation("ghost", models.StatusInUse), models.StatusReserved)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ConditionalDelete(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateReservation(ctx, testReservation("r1", models.StatusInUse)))

			err := s.DeleteReservation(ctx, "r1", models.StatusReserved)
			assert.ErrorIs(t, err, ErrConflict)

			require.NoError(t, s.DeleteReservation(ctx, "r1", models.StatusInUse))

			err = s.DeleteReservation(ctx, "r1", models.StatusInUse)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_Teams(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

			team := models.Team{
				ID:   "t1",
				Name: "第一研究班",
				Members: []models.TeamMember{
					{ID: "m1", Name: "山田 太郎", StudentID: "24AMJ21"},
				},
				Color:     &models.Color{Fill: "#4F46E5", Border: "#4338CA"},
				CreatedAt: now,
				UpdatedAt: now,
			}
			require.NoError(t, s.CreateTeam(ctx, team))

			dup := team
			dup.ID = "t2"
			assert.ErrorIs(t, s.CreateTeam(ctx, dup), ErrTeamExists)

			got, err := s.GetTeamByName(ctx, "第一研究班")
			require.NoError(t, err)
			assert.Equal(t, "t1", got.ID)
			require.NotNil(t, got.Color)
			assert.Equal(t, "#4F46E5", got.Color.Fill)
			assert.Equal(t, team.Members, got.Members)

			other := models.Team{ID: "t2", Name: "第二研究班", CreatedAt: now, UpdatedAt: now}
			require.NoError(t, s.CreateTeam(ctx, other))

			other.Name = "第一研究班"
			assert.ErrorIs(t, s.UpdateTeam(ctx, other), ErrTeamExists)

			other.Name = "材料研究班"
			require.NoError(t, s.UpdateTeam(ctx, other))

			teams, err := s.ListTeams(ctx)
			require.NoError(t, err)
			assert.Len(t, teams, 2)

			require.NoError(t, s.DeleteTeam(ctx, "t2"))
			_, err = s.GetTeam(ctx, "t2")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.DeleteTeam(ctx, "t2"), ErrNotFound)
		})
	}
}

func TestStore_ClosedIsUnavailable(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())

			_, err := s.ListReservations(context.Background())
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestStore_ExpiredContextIsUnavailable(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := s.GetReservation(ctx, "r1")
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestWithTimeout_LateCommitFails(t *testing.T) {
	release := make(chan struct{})
	committed := make(chan error, 1)

	err := withTimeout(context.Background(), 20*time.Millisecond, func(commit func() error) error {
		<-release
		err := commit()
		committed <- err
		return err
	})
	assert.ErrorIs(t, err, ErrUnavailable)

	close(release)
	assert.ErrorIs(t, <-committed, ErrUnavailable)
}

func TestWithTimeout_WaitsForClaimedCommit(t *testing.T) {
	claimed := make(chan struct{})
	release := make(chan struct{})

	go func() {
		<-claimed
		time.Sleep(40 * time.Millisecond)
		close(release)
	}()

	err := withTimeout(context.Background(), 20*time.Millisecond, func(commit func() error) error {
		assert.NoError(t, commit())
		close(claimed)
		<-release
		return nil
	})
	assert.NoError(t, err)
}

func TestBoltStorage_TimedOutWriteRollsBack(t *testing.T) {
	s, err := NewBoltStorage(filepath.Join(t.TempDir(), "booking.db"), 50*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateReservation(ctx, testReservation("r1", models.StatusReserved)))

	// Hold the writer lock past the store's deadline.
	locked := make(chan struct{})
	release := make(chan struct{})
	go s.db.Update(func(tx *bolt.Tx) error {
		close(locked)
		<-release
		return nil
	})
	<-locked

	err = s.UpdateReservation(ctx, testReservation("r1", models.StatusInUse), models.StatusReserved)
	assert.ErrorIs(t, err, ErrUnavailable)
	close(release)

	assert.Never(t, func() bool {
		got, err := s.GetReservation(ctx, "r1")
		return err != nil || got.Status != models.StatusReserved
	}, 200*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, s.UpdateReservation(ctx, testReservation("r1", models.StatusInUse), models.StatusReserved))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mongo", filepath.Join(t.TempDir(), "x"), time.Second)
	assert.Error(t, err)
}
