package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aweist/lab-booking/models"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reservations (
	id         TEXT PRIMARY KEY,
	date       TEXT NOT NULL,
	start_time TEXT NOT NULL DEFAULT '',
	end_time   TEXT NOT NULL DEFAULT '',
	team       TEXT NOT NULL,
	status     TEXT NOT NULL,
	report     TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reservations_date ON reservations(date);

CREATE TABLE IF NOT EXISTS teams (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	members    TEXT NOT NULL,
	color      TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLiteStorage keeps reservations and teams in an SQLite file. Rows are
// returned in insertion order.
type SQLiteStorage struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQLiteStorage(dbPath string, timeout time.Duration) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=1000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &SQLiteStorage{db: db, timeout: timeout}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func classifySQL(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, sql.ErrConnDone),
		strings.Contains(err.Error(), "database is closed"),
		strings.Contains(err.Error(), "database is locked"):
		return unavailable(err)
	}
	return err
}

func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r                    models.Reservation
		status               string
		report               sql.NullString
		createdAt, updatedAt string
	)

	if err := row.Scan(&r.ID, &r.Date, &r.StartTime, &r.EndTime, &r.Team, &status, &report, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	r.Status = models.Status(status)
	if report.Valid {
		r.Report = &models.Report{}
		if err := json.Unmarshal([]byte(report.String), r.Report); err != nil {
			return nil, fmt.Errorf("decoding report of %s: %w", r.ID, err)
		}
	}

	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at of %s: %w", r.ID, err)
	}

	return &r, nil
}

func encodeReport(report *models.Report) (sql.NullString, error) {
	if report == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling report: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

const reservationColumns = `id, date, start_time, end_time, team, status, report, created_at, updated_at`

func (s *SQLiteStorage) ListReservations(ctx context.Context) ([]models.Reservation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations ORDER BY rowid`)
	if err != nil {
		return nil, classifySQL(err)
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, classifySQL(err)
		}
		reservations = append(reservations, *r)
	}

	return reservations, classifySQL(rows.Err())
}

func (s *SQLiteStorage) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("reservation", id)
	}
	if err != nil {
		return nil, classifySQL(err)
	}
	return r, nil
}

func (s *SQLiteStorage) CreateReservation(ctx context.Context, r models.Reservation) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	report, err := encodeReport(r.Report)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reservations (`+reservationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Date, r.StartTime, r.EndTime, r.Team, string(r.Status), report,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if isUniqueViolation(err, "reservations.id") {
		return fmt.Errorf("%w: reservation %s already exists", ErrConflict, r.ID)
	}
	return classifySQL(err)
}

func (s *SQLiteStorage) UpdateReservation(ctx context.Context, r models.Reservation, expected models.Status) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	report, err := encodeReport(r.Report)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reservations
		    SET date = ?, start_time = ?, end_time = ?, team = ?, status = ?, report = ?, updated_at = ?
		  WHERE id = ? AND status = ?`,
		r.Date, r.StartTime, r.EndTime, r.Team, string(r.Status), report, formatTime(r.UpdatedAt),
		r.ID, string(expected))
	if err != nil {
		return classifySQL(err)
	}

	return s.checkSwapped(ctx, res, r.ID, expected)
}

func (s *SQLiteStorage) DeleteReservation(ctx context.Context, id string, expected models.Status) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ? AND status = ?`, id, string(expected))
	if err != nil {
		return classifySQL(err)
	}

	return s.checkSwapped(ctx, res, id, expected)
}

// checkSwapped turns a conditional write that matched no row into
// ErrNotFound or ErrConflict.
func (s *SQLiteStorage) checkSwapped(ctx context.Context, res sql.Result, id string, expected models.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classifySQL(err)
	}
	if n > 0 {
		return nil
	}

	var actual string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM reservations WHERE id = ?`, id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("reservation", id)
	}
	if err != nil {
		return classifySQL(err)
	}
	return conflict(id, expected, models.Status(actual))
}

const teamColumns = `id, name, members, color, created_at, updated_at`

func scanTeam(row rowScanner) (*models.Team, error) {
	var (
		t                    models.Team
		members              string
		color                sql.NullString
		createdAt, updatedAt string
	)

	if err := row.Scan(&t.ID, &t.Name, &members, &color, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(members), &t.Members); err != nil {
		return nil, fmt.Errorf("decoding members of %s: %w", t.ID, err)
	}
	if color.Valid {
		t.Color = &models.Color{}
		if err := json.Unmarshal([]byte(color.String), t.Color); err != nil {
			return nil, fmt.Errorf("decoding color of %s: %w", t.ID, err)
		}
	}

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at of %s: %w", t.ID, err)
	}

	return &t, nil
}

func encodeTeam(t models.Team) (string, sql.NullString, error) {
	members := t.Members
	if members == nil {
		members = []models.TeamMember{}
	}
	m, err := json.Marshal(members)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("marshaling members: %w", err)
	}

	if t.Color == nil {
		return string(m), sql.NullString{}, nil
	}
	c, err := json.Marshal(t.Color)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("marshaling color: %w", err)
	}
	return string(m), sql.NullString{String: string(c), Valid: true}, nil
}

func (s *SQLiteStorage) ListTeams(ctx context.Context) ([]models.Team, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY rowid`)
	if err != nil {
		return nil, classifySQL(err)
	}
	defer rows.Close()

	var teams []models.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, classifySQL(err)
		}
		teams = append(teams, *t)
	}

	return teams, classifySQL(rows.Err())
}

func (s *SQLiteStorage) getTeamWhere(ctx context.Context, column, value string) (*models.Team, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE `+column+` = ?`, value)
	t, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("team", value)
	}
	if err != nil {
		return nil, classifySQL(err)
	}
	return t, nil
}

func (s *SQLiteStorage) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	return s.getTeamWhere(ctx, "id", id)
}

func (s *SQLiteStorage) GetTeamByName(ctx context.Context, name string) (*models.Team, error) {
	return s.getTeamWhere(ctx, "name", name)
}

func (s *SQLiteStorage) CreateTeam(ctx context.Context, t models.Team) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	members, color, err := encodeTeam(t)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO teams (`+teamColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, members, color, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	switch {
	case isUniqueViolation(err, "teams.name"):
		return fmt.Errorf("%q: %w", t.Name, ErrTeamExists)
	case isUniqueViolation(err, "teams.id"):
		return fmt.Errorf("%w: team %s already exists", ErrConflict, t.ID)
	}
	return classifySQL(err)
}

func (s *SQLiteStorage) UpdateTeam(ctx context.Context, t models.Team) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	members, color, err := encodeTeam(t)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE teams SET name = ?, members = ?, color = ?, updated_at = ? WHERE id = ?`,
		t.Name, members, color, formatTime(t.UpdatedAt), t.ID)
	if isUniqueViolation(err, "teams.name") {
		return fmt.Errorf("%q: %w", t.Name, ErrTeamExists)
	}
	if err != nil {
		return classifySQL(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return classifySQL(err)
	}
	if n == 0 {
		return notFound("team", t.ID)
	}
	return nil
}

func (s *SQLiteStorage) DeleteTeam(ctx context.Context, id string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id = ?`, id)
	if err != nil {
		return classifySQL(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return classifySQL(err)
	}
	if n == 0 {
		return notFound("team", id)
	}
	return nil
}
