package booking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTimeRange(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		want  error
	}{
		{name: "typical slot", start: "10:00", end: "12:00"},
		{name: "earliest start", start: "06:00", end: "07:00"},
		{name: "ends at midnight", start: "22:00", end: "24:00"},
		{name: "one minute", start: "09:59", end: "10:00"},
		{name: "start too early", start: "05:59", end: "08:00", want: ErrStartTooEarly},
		{name: "start too early and inverted", start: "05:00", end: "04:00", want: ErrStartTooEarly},
		{name: "midnight start", start: "00:00", end: "01:00", want: ErrStartTooEarly},
		{name: "equal", start: "10:00", end: "10:00", want: ErrInvertedRange},
		{name: "inverted", start: "12:00", end: "10:00", want: ErrInvertedRange},
		{name: "inverted wins over late end", start: "25:00", end: "24:30", want: ErrInvertedRange},
		{name: "end too late", start: "23:00", end: "24:30", want: ErrEndTooLate},
		{name: "end next day", start: "20:00", end: "25:00", want: ErrEndTooLate},
		{name: "not zero padded", start: "9:00", end: "10:00", want: ErrMalformedTime},
		{name: "garbage", start: "ten", end: "12:00", want: ErrMalformedTime},
		{name: "minutes out of range", start: "10:60", end: "12:00", want: ErrMalformedTime},
		{name: "missing colon", start: "1000", end: "12:00", want: ErrMalformedTime},
		{name: "empty end", start: "10:00", end: "", want: ErrMalformedTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTimeRange(tt.start, tt.end)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrInvalidTimeRange)
			assert.ErrorIs(t, err, ErrValidation)

			var rangeErr *TimeRangeError
			require.True(t, errors.As(err, &rangeErr))
			assert.Equal(t, tt.start, rangeErr.Start)
			assert.Equal(t, tt.end, rangeErr.End)
		})
	}
}

func TestValidateTimeRange_EveryEarlyStartRejected(t *testing.T) {
	for hour := 0; hour < 6; hour++ {
		for _, minute := range []int{0, 15, 30, 59} {
			start := clock(hour, minute)
			for _, end := range []string{"00:00", "05:00", "07:00", "12:00", "24:00"} {
				err := ValidateTimeRange(start, end)
				assert.ErrorIs(t, err, ErrStartTooEarly, "start=%s end=%s", start, end)
			}
		}
	}
}

func TestValidateTimeRange_EveryNonIncreasingRangeRejected(t *testing.T) {
	starts := []string{"06:00", "10:30", "18:00", "23:59", "24:00"}
	for _, start := range starts {
		for _, end := range []string{"06:00", "10:30", "18:00", "23:59", "24:00"} {
			if start < end {
				continue
			}
			err := ValidateTimeRange(start, end)
			assert.ErrorIs(t, err, ErrInvertedRange, "start=%s end=%s", start, end)
		}
	}
}

func clock(hour, minute int) string {
	return string([]byte{
		byte('0' + hour/10), byte('0' + hour%10), ':',
		byte('0' + minute/10), byte('0' + minute%10),
	})
}
