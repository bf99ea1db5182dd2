package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aweist/lab-booking/throttle"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const DefaultSessionTTL = 48 * time.Hour

var (
	ErrInvalidPurpose = errors.New("invalid authentication purpose")
	ErrInvalidSession = errors.New("invalid or expired session")
)

// Purpose says what a credential unlocks.
type Purpose string

const (
	PurposeEnter Purpose = "enter"
	PurposeCSV   Purpose = "csv"
	PurposeAdmin Purpose = "admin"
)

func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(strings.ToLower(strings.TrimSpace(s))); p {
	case PurposeEnter, PurposeCSV, PurposeAdmin:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPurpose, s)
}

// Allows reports whether a session issued for p may be used for want. Admin
// sessions may be used for everything.
func (p Purpose) Allows(want Purpose) bool {
	return p == want || p == PurposeAdmin
}

// Secrets are the shared credentials. Each may be given in plain text or as a
// bcrypt hash. An empty secret never matches.
type Secrets struct {
	Enter string
	CSV   string
	Admin string
}

func (s Secrets) forPurpose(p Purpose) string {
	switch p {
	case PurposeEnter:
		return s.Enter
	case PurposeCSV:
		return s.CSV
	case PurposeAdmin:
		return s.Admin
	}
	return ""
}

func matches(secret, credential string) bool {
	if secret == "" {
		return false
	}
	if isBcryptHash(secret) {
		return bcrypt.CompareHashAndPassword([]byte(secret), []byte(credential)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(credential)) == 1
}

func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

type Request struct {
	Credential string
	Purpose    string
}

type Result struct {
	Success           bool       `json:"success"`
	Purpose           Purpose    `json:"purpose,omitempty"`
	RemainingAttempts *int       `json:"remainingAttempts,omitempty"`
	Token             string     `json:"token,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
}

// AttemptObserver is told about the outcome of every authentication attempt.
type AttemptObserver interface {
	ObserveAttempt(purpose string, outcome string)
}

type Authenticator struct {
	secrets  Secrets
	throttle *throttle.Throttle
	sessions *SessionManager
	clock    clockwork.Clock
	observer AttemptObserver
}

type Config struct {
	Secrets  Secrets
	Throttle *throttle.Throttle
	Sessions *SessionManager
	Clock    clockwork.Clock
	Observer AttemptObserver
}

func NewAuthenticator(config Config) *Authenticator {
	a := &Authenticator{
		secrets:  config.Secrets,
		throttle: config.Throttle,
		sessions: config.Sessions,
		clock:    config.Clock,
		observer: config.Observer,
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	if a.throttle == nil {
		a.throttle = throttle.New(throttle.DefaultConfig(), throttle.WithClock(a.clock))
	}
	return a
}

func (a *Authenticator) Sessions() *SessionManager {
	return a.sessions
}

// Authenticate checks a credential for clientKey. The rate guard and the
// lockout are consulted before the credential is looked at. A wrong
// credential is not an error: the result reports the attempts left.
func (a *Authenticator) Authenticate(clientKey string, req Request) (*Result, error) {
	if err := a.Admit(clientKey, req.Purpose); err != nil {
		return nil, err
	}
	return a.Verify(clientKey, req)
}

// Admit runs the rate guard and the lockout check for clientKey. Callers that
// have to do work before the credential is known, such as reading a request
// body, call Admit first and Verify afterwards.
func (a *Authenticator) Admit(clientKey, purpose string) error {
	if err := a.throttle.Guard(clientKey); err != nil {
		a.observe(purposeLabel(purpose), outcomeFor(err))
		log.Warn().Err(err).Str("client", clientKey).Msg("authentication rejected")
		return err
	}
	return nil
}

// Verify checks the credential of an admitted request.
func (a *Authenticator) Verify(clientKey string, req Request) (*Result, error) {
	purpose, err := ParsePurpose(req.Purpose)
	if err != nil {
		a.observe("invalid", "invalid_purpose")
		return nil, err
	}

	if !matches(a.secrets.forPurpose(purpose), req.Credential) {
		a.throttle.RecordFailure(clientKey)
		remaining := a.throttle.RemainingAttempts(clientKey)
		a.observe(string(purpose), "failure")
		log.Info().
			Str("client", clientKey).
			Str("purpose", string(purpose)).
			Int("remaining_attempts", remaining).
			Msg("authentication failed")
		return &Result{Success: false, Purpose: purpose, RemainingAttempts: &remaining}, nil
	}

	a.throttle.Reset(clientKey)
	result := &Result{Success: true, Purpose: purpose}

	if a.sessions != nil {
		token, expires, err := a.sessions.Issue(purpose)
		if err != nil {
			return nil, fmt.Errorf("issuing session: %w", err)
		}
		result.Token = token
		result.ExpiresAt = &expires
	}

	a.observe(string(purpose), "success")
	log.Info().Str("client", clientKey).Str("purpose", string(purpose)).Msg("authentication succeeded")
	return result, nil
}

func (a *Authenticator) observe(purpose, outcome string) {
	if a.observer != nil {
		a.observer.ObserveAttempt(purpose, outcome)
	}
}

func purposeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	p, err := ParsePurpose(s)
	if err != nil {
		return "invalid"
	}
	return string(p)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, throttle.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, throttle.ErrLockedOut):
		return "locked_out"
	}
	return "error"
}
