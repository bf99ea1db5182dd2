package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aweist/lab-booking/config"
	"github.com/aweist/lab-booking/models"
	"github.com/aweist/lab-booking/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func run(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		exportOutput = ""
	})

	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func seedStore(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "booking.db")
	store, err := storage.NewBoltStorage(path, time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.CreateReservation(ctx, models.Reservation{
		ID:        "done",
		Date:      "2024-10-15",
		StartTime: "10:00",
		EndTime:   "12:00",
		Team:      "第一研究班",
		Status:    models.StatusCompleted,
		Report:    &models.Report{Participants: []string{"A"}, Shots: 5},
	}))
	require.NoError(t, store.CreateReservation(ctx, models.Reservation{
		ID:        "late",
		Date:      "2024-10-14",
		StartTime: "09:00",
		EndTime:   "10:00",
		Team:      "第二研究班",
		Status:    models.StatusReserved,
	}))
	require.NoError(t, store.Close())
	return path
}

func setEnv(t *testing.T, dbPath string) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ENTER_PASSWORD", "enter")
	t.Setenv("CSV_PASSWORD", "csv")
	t.Setenv("SESSION_SECRET", "0123456789abcdef")
	t.Setenv("STORAGE_DRIVER", "bolt")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "error")
}

func TestExportToStdout(t *testing.T) {
	setEnv(t, seedStore(t))

	out := run(t, "export", "--output", "-")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Date,Time,Team,Participants,Student IDs,Target,Shots,Notes", lines[0])
	assert.Equal(t, "2024-10-15,10:00-12:00,第一研究班,A,,,5,", lines[1])
}

func TestExportToFile(t *testing.T) {
	setEnv(t, seedStore(t))
	path := filepath.Join(t.TempDir(), "report.csv")

	run(t, "export", "--output", path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2024-10-15,10:00-12:00,第一研究班,A,,,5,")
}

func TestWriteTo(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, writeTo(&stdout, "-", func(w io.Writer) error {
		_, err := io.WriteString(w, "to stdout")
		return err
	}))
	assert.Equal(t, "to stdout", stdout.String())

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, writeTo(&stdout, path, func(w io.Writer) error {
		_, err := io.WriteString(w, "to file")
		return err
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "to file", string(data))

	boom := errors.New("boom")
	err = writeTo(&stdout, path, func(io.Writer) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = writeTo(&stdout, filepath.Join(t.TempDir(), "missing", "out.csv"), func(io.Writer) error {
		t.Fatal("write called without a file")
		return nil
	})
	assert.ErrorContains(t, err, "creating")
}

func TestWriteTo_ReportsCloseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	err := writeTo(io.Discard, path, func(w io.Writer) error {
		// Closing early makes the deferred close fail.
		return w.(*os.File).Close()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.ErrorContains(t, err, "closing")
}

func TestSweepOnce(t *testing.T) {
	setEnv(t, seedStore(t))

	out := run(t, "sweep")
	assert.Contains(t, out, "late\t2024-10-14 09:00-10:00\t第二研究班\treserved")
	assert.Contains(t, out, "1 overdue reservation(s)")
	assert.NotContains(t, out, "done\t")
}

func TestHashPassword(t *testing.T) {
	out := run(t, "hash-password", "--cost", "4", "s3cret")

	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	require.NoError(t, setupLogging(config.LogConfig{Level: "debug"}))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	require.NoError(t, setupLogging(config.LogConfig{Level: ""}))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	assert.Error(t, setupLogging(config.LogConfig{Level: "loud"}))
}
