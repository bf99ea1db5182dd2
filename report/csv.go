package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aweist/lab-booking/models"
	"github.com/rs/zerolog/log"
)

// Header is the fixed first row of every export.
var Header = []string{"Date", "Time", "Team", "Participants", "Student IDs", "Target", "Shots", "Notes"}

const (
	DefaultPrefix = "instrument-usage"
	listSeparator = ";"
)

// StudentLookup finds the student id of a participant within a team.
type StudentLookup func(team, participant string) (string, bool)

type Exporter struct {
	prefix string
}

func NewExporter(prefix string) *Exporter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Exporter{prefix: prefix}
}

// Filename returns the download name for an export made at now.
func (e *Exporter) Filename(now time.Time) string {
	return Filename(e.prefix, now)
}

func Filename(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s.csv", prefix, now.Format("2006-01-02"))
}

// Export writes the completed reservations as CSV, in the order given, and
// returns the number of data rows written. Reservations in any other state
// are skipped.
func (e *Exporter) Export(w io.Writer, reservations []models.Reservation, lookup StudentLookup) (int, error) {
	bw := bufio.NewWriter(w)

	if err := writeRow(bw, Header); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}

	rows := 0
	for _, r := range reservations {
		report, ok := r.Completion()
		if !ok {
			continue
		}

		if err := writeRow(bw, row(r, report, lookup)); err != nil {
			return rows, fmt.Errorf("writing reservation %s: %w", r.ID, err)
		}
		rows++
	}

	if err := bw.Flush(); err != nil {
		return rows, fmt.Errorf("flushing csv: %w", err)
	}

	log.Debug().Int("rows", rows).Int("reservations", len(reservations)).Msg("usage report exported")
	return rows, nil
}

func row(r models.Reservation, report models.Report, lookup StudentLookup) []string {
	ids := make([]string, len(report.Participants))
	if lookup != nil {
		for i, p := range report.Participants {
			if id, ok := lookup(r.Team, p); ok {
				ids[i] = id
			}
		}
	}

	return []string{
		r.Date,
		timeRange(r.StartTime, r.EndTime),
		r.Team,
		strings.Join(report.Participants, listSeparator),
		strings.Join(ids, listSeparator),
		report.Target,
		strconv.Itoa(report.Shots),
		report.Notes,
	}
}

func timeRange(start, end string) string {
	if start == "" || end == "" {
		return ""
	}
	return start + "-" + end
}

func writeRow(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(escape(f)); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

// escape quotes a field only when it contains a separator, a quote or a line
// break. encoding/csv also quotes fields with leading spaces, which would
// change notes that start with one.
func escape(field string) string {
	if !strings.ContainsAny(field, ",\"\r\n") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
