package booking

import (
	"fmt"
)

// Bookable hours. Times are zero-padded "HH:MM" strings so they compare
// correctly as strings.
const (
	MinTime = "06:00"
	MaxTime = "24:00"
)

// TimeRangeError describes why a proposed start/end pair was rejected.
type TimeRangeError struct {
	Start  string
	End    string
	Reason error
}

func (e *TimeRangeError) Error() string {
	return fmt.Sprintf("time range %s-%s: %v", e.Start, e.End, e.Reason)
}

func (e *TimeRangeError) Unwrap() []error {
	return []error{e.Reason, ErrInvalidTimeRange}
}

// ValidateTimeRange checks a proposed slot. Rules are applied in a fixed
// order and the first one that fails is reported: malformed input, start
// before MinTime, start not before end, end after MaxTime. Overlap with other
// reservations is deliberately not checked.
func ValidateTimeRange(start, end string) error {
	reject := func(reason error) error {
		return &TimeRangeError{Start: start, End: end, Reason: reason}
	}

	if !isClockTime(start) || !isClockTime(end) {
		return reject(ErrMalformedTime)
	}

	if start < MinTime {
		return reject(ErrStartTooEarly)
	}

	if start >= end {
		return reject(ErrInvertedRange)
	}

	if end > MaxTime {
		return reject(ErrEndTooLate)
	}

	return nil
}

// isClockTime accepts two-digit hours, a colon and two-digit minutes in
// 00-59. The hour is not range checked here; the bookable window is.
func isClockTime(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s[3] <= '5'
}
