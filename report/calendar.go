package report

import (
	"crypto/md5"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aweist/lab-booking/models"
)

const icsTimeLayout = "20060102T150405Z"

// WriteCalendar writes the reservations as an iCalendar feed. Times are read
// in loc. Reservations without a parseable slot are skipped.
func WriteCalendar(w io.Writer, reservations []models.Reservation, loc *time.Location, now time.Time) error {
	var ics strings.Builder
	ics.WriteString("BEGIN:VCALENDAR\r\n")
	ics.WriteString("VERSION:2.0\r\n")
	ics.WriteString("PRODID:-//Lab Booking//EN\r\n")
	ics.WriteString("CALSCALE:GREGORIAN\r\n")
	ics.WriteString("METHOD:PUBLISH\r\n")

	dtStamp := now.UTC().Format(icsTimeLayout)
	for _, r := range reservations {
		start, end, ok := slot(r, loc)
		if !ok {
			continue
		}

		ics.WriteString("BEGIN:VEVENT\r\n")
		ics.WriteString(fmt.Sprintf("UID:%x@lab-booking\r\n", md5.Sum([]byte(r.ID))))
		ics.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", dtStamp))
		ics.WriteString(fmt.Sprintf("DTSTART:%s\r\n", start.UTC().Format(icsTimeLayout)))
		ics.WriteString(fmt.Sprintf("DTEND:%s\r\n", end.UTC().Format(icsTimeLayout)))
		ics.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICS(r.Team)))
		ics.WriteString(fmt.Sprintf("STATUS:%s\r\n", icsStatus(r.Status)))

		description := fmt.Sprintf("Team: %s\nStatus: %s", r.Team, r.Status)
		if report, ok := r.Completion(); ok {
			description += fmt.Sprintf("\nParticipants: %s\nShots: %d",
				strings.Join(report.Participants, ", "), report.Shots)
		}
		ics.WriteString(fmt.Sprintf("DESCRIPTION:%s\r\n", escapeICS(description)))
		ics.WriteString("END:VEVENT\r\n")
	}

	ics.WriteString("END:VCALENDAR\r\n")

	_, err := io.WriteString(w, ics.String())
	return err
}

// slot converts the reservation's date and times into instants. A missing
// start or end covers the whole day.
func slot(r models.Reservation, loc *time.Location) (time.Time, time.Time, bool) {
	day, err := time.ParseInLocation("2006-01-02", r.Date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}

	start, okStart := clockOffset(r.StartTime)
	end, okEnd := clockOffset(r.EndTime)
	if !okStart || !okEnd || end <= start {
		return day, day.AddDate(0, 0, 1), true
	}
	return day.Add(start), day.Add(end), true
}

func clockOffset(s string) (time.Duration, bool) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%2d:%2d", &hour, &minute); err != nil {
		return 0, false
	}
	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, true
}

func icsStatus(s models.Status) string {
	if s == models.StatusReserved {
		return "TENTATIVE"
	}
	return "CONFIRMED"
}

var icsEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"\r\n", "\\n",
	"\r", "\\n",
	"\n", "\\n",
	",", "\\,",
	";", "\\;",
)

// escapeICS escapes a TEXT value. Every line break becomes a literal \n so a
// value can never start a new content line.
func escapeICS(s string) string {
	return icsEscaper.Replace(s)
}
