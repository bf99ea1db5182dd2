package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const issuer = "lab-booking"

type sessionClaims struct {
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// Session is a verified session token.
type Session struct {
	ID        string
	Purpose   Purpose
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionManager issues and verifies signed session tokens.
type SessionManager struct {
	key   []byte
	ttl   time.Duration
	clock clockwork.Clock
}

func NewSessionManager(signingKey string, ttl time.Duration, clock clockwork.Clock) (*SessionManager, error) {
	if len(signingKey) < 16 {
		return nil, errors.New("session signing key must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionManager{key: []byte(signingKey), ttl: ttl, clock: clock}, nil
}

func (m *SessionManager) Issue(purpose Purpose) (string, time.Time, error) {
	now := m.clock.Now().Truncate(time.Second)
	expires := now.Add(m.ttl)

	claims := sessionClaims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Verify checks the signature and expiry of a token against the current
// time.
func (m *SessionManager) Verify(token string) (*Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	if _, err := ParsePurpose(string(claims.Purpose)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	s := &Session{
		ID:        claims.ID,
		Purpose:   claims.Purpose,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	return s, nil
}

// Require verifies token and checks that it may be used for want.
func (m *SessionManager) Require(token string, want Purpose) (*Session, error) {
	s, err := m.Verify(token)
	if err != nil {
		return nil, err
	}
	if !s.Purpose.Allows(want) {
		return nil, fmt.Errorf("%w: %s session cannot be used for %s", ErrInvalidSession, s.Purpose, want)
	}
	return s, nil
}
