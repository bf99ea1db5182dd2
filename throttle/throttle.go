package throttle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrRateLimited = errors.New("too many requests")
	ErrLockedOut   = errors.New("too many failed attempts")
)

// RateLimitError is returned when a client sends requests faster than the
// minimum interval allows.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// LockoutError is returned while a client is locked out after repeated
// failures.
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("%v: locked out for %s", ErrLockedOut, e.RetryAfter)
}

func (e *LockoutError) Unwrap() error { return ErrLockedOut }

type Config struct {
	MaxAttempts int           `yaml:"max_attempts"`
	ResetWindow time.Duration `yaml:"reset_window"`
	MinInterval time.Duration `yaml:"min_interval"`
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		ResetWindow: 30 * time.Minute,
		MinInterval: time.Second,
	}
}

type failureRecord struct {
	count       int
	windowStart time.Time
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle tracks authentication failures and request rates per client key.
// A single mutex guards all state so concurrent failures from one key are
// never under-counted.
type Throttle struct {
	config Config
	clock  clockwork.Clock

	mu       sync.Mutex
	failures map[string]*failureRecord
	rates    map[string]*rateEntry
}

type Option func(*Throttle)

func WithClock(clock clockwork.Clock) Option {
	return func(t *Throttle) {
		t.clock = clock
	}
}

func New(config Config, opts ...Option) *Throttle {
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.ResetWindow <= 0 {
		config.ResetWindow = defaults.ResetWindow
	}
	if config.MinInterval < 0 {
		config.MinInterval = defaults.MinInterval
	}

	t := &Throttle{
		config:   config,
		clock:    clockwork.NewRealClock(),
		failures: make(map[string]*failureRecord),
		rates:    make(map[string]*rateEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Throttle) Config() Config {
	return t.config
}

// CheckRequestRate admits at most one request per MinInterval from key.
// Rejected requests do not count towards the interval.
func (t *Throttle) CheckRequestRate(key string) error {
	if t.config.MinInterval == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	entry, ok := t.rates[key]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Every(t.config.MinInterval), 1)}
		t.rates[key] = entry
	}
	entry.lastSeen = now

	if entry.limiter.AllowN(now, 1) {
		return nil
	}

	missing := 1 - entry.limiter.TokensAt(now)
	retry := time.Duration(missing * float64(t.config.MinInterval))
	if retry <= 0 {
		retry = time.Millisecond
	}
	return &RateLimitError{RetryAfter: retry}
}

// RecordFailure counts a failed attempt and returns the count in the current
// window. A failure after the window has expired starts a new one.
func (t *Throttle) RecordFailure(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	rec, ok := t.failures[key]
	if !ok || now.Sub(rec.windowStart) > t.config.ResetWindow {
		rec = &failureRecord{windowStart: now}
		t.failures[key] = rec
	}
	rec.count++

	if rec.count >= t.config.MaxAttempts {
		log.Warn().Str("client", key).Int("failures", rec.count).Msg("client locked out")
	}
	return rec.count
}

func (t *Throttle) IsLockedOut(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, locked := t.lockout(key, t.clock.Now())
	return locked
}

// lockout must be called with mu held.
func (t *Throttle) lockout(key string, now time.Time) (time.Duration, bool) {
	rec, ok := t.failures[key]
	if !ok || rec.count < t.config.MaxAttempts {
		return 0, false
	}
	elapsed := now.Sub(rec.windowStart)
	if elapsed > t.config.ResetWindow {
		return 0, false
	}
	return t.config.ResetWindow - elapsed, true
}

// Reset forgets all failures of key.
func (t *Throttle) Reset(key string) {
	t.mu.Lock()
	delete(t.failures, key)
	t.mu.Unlock()
}

// RemainingAttempts reports how many failures key may still make before it
// is locked out. An expired window counts as no failures.
func (t *Throttle) RemainingAttempts(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	if rec, ok := t.failures[key]; ok && t.clock.Now().Sub(rec.windowStart) <= t.config.ResetWindow {
		count = rec.count
	}
	return max(0, t.config.MaxAttempts-count)
}

// Guard runs the rate guard and then the lockout check. It is meant to be
// called before any credential is looked at.
func (t *Throttle) Guard(key string) error {
	if err := t.CheckRequestRate(key); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if retry, locked := t.lockout(key, t.clock.Now()); locked {
		return &LockoutError{RetryAfter: retry}
	}
	return nil
}

// Sweep drops expired failure windows and rate entries idle for longer than
// the reset window. It returns the number of entries removed.
func (t *Throttle) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	removed := 0
	for key, rec := range t.failures {
		if now.Sub(rec.windowStart) > t.config.ResetWindow {
			delete(t.failures, key)
			removed++
		}
	}
	for key, entry := range t.rates {
		if now.Sub(entry.lastSeen) > t.config.ResetWindow {
			delete(t.rates, key)
			removed++
		}
	}
	return removed
}
