package booking

import "errors"

// ErrValidation is wrapped by every rejection caused by bad input. Callers
// report these inline and never retry them.
var ErrValidation = errors.New("validation failed")

var (
	ErrInvalidTimeRange = validation("invalid time range")
	ErrMissingTeam      = validation("team is required")
	ErrInvalidTeamName  = validation("team name must not contain control characters")
	ErrInvalidDate      = validation("date must be YYYY-MM-DD")
	ErrIncompleteReport = validation("usage report is incomplete")

	ErrMalformedTime = errors.New("times must be zero-padded HH:MM")
	ErrStartTooEarly = errors.New("start is before " + MinTime)
	ErrEndTooLate    = errors.New("end is after " + MaxTime)
	ErrInvertedRange = errors.New("start must be before end")
)

// ErrInvalidTransition is returned when the reservation is not in a state
// that allows the requested operation. Nothing is written in that case.
var ErrInvalidTransition = errors.New("invalid status transition")

type validationError struct {
	msg string
}

func validation(msg string) error {
	return &validationError{msg: msg}
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return ErrValidation }
