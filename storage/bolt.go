package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aweist/lab-booking/models"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketReservations = "reservations"
	bucketTeams        = "teams"
)

type BoltStorage struct {
	db      *bolt.DB
	timeout time.Duration
}

func NewBoltStorage(dbPath string, timeout time.Duration) (*BoltStorage, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketReservations))
		if err != nil {
			return fmt.Errorf("creating reservations bucket: %w", err)
		}

		_, err = tx.CreateBucketIfNotExists([]byte(bucketTeams))
		if err != nil {
			return fmt.Errorf("creating teams bucket: %w", err)
		}

		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db, timeout: timeout}, nil
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}

func (s *BoltStorage) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	return withTimeout(ctx, s.timeout, func(func() error) error {
		return classifyBolt(s.db.View(fn))
	})
}

// update runs fn in a read-write transaction. A non-nil error from fn or a
// deadline that passed while fn ran rolls the transaction back.
func (s *BoltStorage) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	return withTimeout(ctx, s.timeout, func(commit func() error) error {
		return classifyBolt(s.db.Update(func(tx *bolt.Tx) error {
			if err := fn(tx); err != nil {
				return err
			}
			return commit()
		}))
	})
}

func classifyBolt(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) || errors.Is(err, bolt.ErrTimeout) {
		return unavailable(err)
	}
	return err
}

func (s *BoltStorage) ListReservations(ctx context.Context) ([]models.Reservation, error) {
	var reservations []models.Reservation

	err := s.view(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketReservations))

		return b.ForEach(func(k, v []byte) error {
			var r models.Reservation
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decoding reservation %s: %w", k, err)
			}
			reservations = append(reservations, r)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return reservations, nil
}

func (s *BoltStorage) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var r *models.Reservation

	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		r, err = getReservation(tx, id)
		return err
	})

	if err != nil {
		return nil, err
	}

	return r, nil
}

func getReservation(tx *bolt.Tx, id string) (*models.Reservation, error) {
	data := tx.Bucket([]byte(bucketReservations)).Get([]byte(id))
	if data == nil {
		return nil, notFound("reservation", id)
	}

	var r models.Reservation
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding reservation %s: %w", id, err)
	}
	return &r, nil
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

func (s *BoltStorage) CreateReservation(ctx context.Context, r models.Reservation) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketReservations))

		if b.Get([]byte(r.ID)) != nil {
			return fmt.Errorf("%w: reservation %s already exists", ErrConflict, r.ID)
		}

		return putJSON(b, r.ID, r)
	})
}

// UpdateReservation performs the status check and the write inside one
// read-write transaction; bbolt serialises those, which makes it a
// compare-and-swap.
func (s *BoltStorage) UpdateReservation(ctx context.Context, r models.Reservation, expected models.Status) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		current, err := getReservation(tx, r.ID)
		if err != nil {
			return err
		}

		if current.Status != expected {
			return conflict(r.ID, expected, current.Status)
		}

		return putJSON(tx.Bucket([]byte(bucketReservations)), r.ID, r)
	})
}

func (s *BoltStorage) DeleteReservation(ctx context.Context, id string, expected models.Status) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		current, err := getReservation(tx, id)
		if err != nil {
			return err
		}

		if current.Status != expected {
			return conflict(id, expected, current.Status)
		}

		return tx.Bucket([]byte(bucketReservations)).Delete([]byte(id))
	})
}

func (s *BoltStorage) ListTeams(ctx context.Context) ([]models.Team, error) {
	var teams []models.Team

	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		teams, err = allTeams(tx)
		return err
	})

	if err != nil {
		return nil, err
	}

	return teams, nil
}

func allTeams(tx *bolt.Tx) ([]models.Team, error) {
	var teams []models.Team

	err := tx.Bucket([]byte(bucketTeams)).ForEach(func(k, v []byte) error {
		var team models.Team
		if err := json.Unmarshal(v, &team); err != nil {
			return fmt.Errorf("decoding team %s: %w", k, err)
		}
		teams = append(teams, team)
		return nil
	})

	return teams, err
}

func (s *BoltStorage) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	var team models.Team

	err := s.view(ctx, func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketTeams)).Get([]byte(id))
		if data == nil {
			return notFound("team", id)
		}
		return json.Unmarshal(data, &team)
	})

	if err != nil {
		return nil, err
	}

	return &team, nil
}

func (s *BoltStorage) GetTeamByName(ctx context.Context, name string) (*models.Team, error) {
	var found *models.Team

	err := s.view(ctx, func(tx *bolt.Tx) error {
		teams, err := allTeams(tx)
		if err != nil {
			return err
		}
		for i := range teams {
			if teams[i].Name == name {
				found = &teams[i]
				return nil
			}
		}
		return notFound("team", name)
	})

	if err != nil {
		return nil, err
	}

	return found, nil
}

// nameTaken reports whether a team other than id already uses name.
func nameTaken(tx *bolt.Tx, id, name string) (bool, error) {
	teams, err := allTeams(tx)
	if err != nil {
		return false, err
	}
	for _, t := range teams {
		if t.Name == name && t.ID != id {
			return true, nil
		}
	}
	return false, nil
}

func (s *BoltStorage) CreateTeam(ctx context.Context, team models.Team) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTeams))

		if b.Get([]byte(team.ID)) != nil {
			return fmt.Errorf("%w: team %s already exists", ErrConflict, team.ID)
		}

		taken, err := nameTaken(tx, team.ID, team.Name)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%q: %w", team.Name, ErrTeamExists)
		}

		return putJSON(b, team.ID, team)
	})
}

func (s *BoltStorage) UpdateTeam(ctx context.Context, team models.Team) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTeams))

		if b.Get([]byte(team.ID)) == nil {
			return notFound("team", team.ID)
		}

		taken, err := nameTaken(tx, team.ID, team.Name)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%q: %w", team.Name, ErrTeamExists)
		}

		return putJSON(b, team.ID, team)
	})
}

func (s *BoltStorage) DeleteTeam(ctx context.Context, id string) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTeams))
		if b.Get([]byte(id)) == nil {
			return notFound("team", id)
		}
		return b.Delete([]byte(id))
	})
}
