package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aweist/lab-booking/auth"
	"github.com/aweist/lab-booking/booking"
	"github.com/aweist/lab-booking/storage"
	"github.com/aweist/lab-booking/throttle"
	"github.com/rs/zerolog/log"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errResponse struct {
	Error APIError `json:"error"`
}

var (
	errBadRequest   = APIError{Code: "INVALID_REQUEST", Message: "invalid request body"}
	errUnauthorized = APIError{Code: "UNAUTHORIZED", Message: "missing or invalid session"}
	errNotFound     = APIError{Code: "NOT_FOUND", Message: "resource not found"}
	errConflict     = APIError{Code: "CONFLICT", Message: "reservation was changed by someone else, reload and try again"}
	errTeamExists   = APIError{Code: "TEAM_EXISTS", Message: "team name already exists"}
	errUnavailable  = APIError{Code: "UNAVAILABLE", Message: "storage is unavailable, try again later"}
	errRateLimited  = APIError{Code: "RATE_LIMITED", Message: "too many requests"}
	errLockedOut    = APIError{Code: "LOCKED_OUT", Message: "too many failed attempts"}
	errInternal     = APIError{Code: "INTERNAL_SERVER_ERROR", Message: "internal server error"}
)

// mapError turns a domain error into a status and a response body. Validation
// and transition errors carry their own message; the rest use fixed text so
// storage details never leak to clients.
func mapError(err error) (int, APIError) {
	var rateErr *throttle.RateLimitError
	var lockErr *throttle.LockoutError

	switch {
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests, errRateLimited
	case errors.As(err, &lockErr):
		return http.StatusForbidden, errLockedOut
	case errors.Is(err, booking.ErrValidation):
		return http.StatusBadRequest, APIError{Code: "VALIDATION_FAILED", Message: err.Error()}
	case errors.Is(err, auth.ErrInvalidPurpose):
		return http.StatusBadRequest, APIError{Code: "INVALID_PURPOSE", Message: err.Error()}
	case errors.Is(err, auth.ErrInvalidSession):
		return http.StatusUnauthorized, errUnauthorized
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, errNotFound
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, APIError{Code: "INVALID_TRANSITION", Message: err.Error()}
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, errConflict
	case errors.Is(err, storage.ErrTeamExists):
		return http.StatusConflict, errTeamExists
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, errUnavailable
	}
	return http.StatusInternalServerError, errInternal
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := mapError(err)

	var rateErr *throttle.RateLimitError
	var lockErr *throttle.LockoutError
	switch {
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", retryAfter(rateErr.RetryAfter.Seconds()))
	case errors.As(err, &lockErr):
		w.Header().Set("Retry-After", retryAfter(lockErr.RetryAfter.Seconds()))
	}

	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("request failed")

	writeJSON(w, status, errResponse{Error: apiErr})
}

// retryAfter rounds up to whole seconds, with a minimum of one.
func retryAfter(seconds float64) string {
	n := int(seconds)
	if float64(n) < seconds {
		n++
	}
	if n < 1 {
		n = 1
	}
	return strconv.Itoa(n)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, errResponse{Error: APIError{
		Code:    errBadRequest.Code,
		Message: fmt.Sprintf(format, args...),
	}})
}
