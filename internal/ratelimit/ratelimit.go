// Package ratelimit caps how many messages a recipient receives per fixed
// time window.
package ratelimit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/PartnerCenter/internal/logging"
)

const (
	DefaultCap    = 30
	DefaultWindow = 60 * time.Second
)

// Decision is the answer to one acquire attempt.
type Decision struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the current window ends.
	ResetAt time.Time
	// Degraded is set when the counter store failed and the limiter let the
	// attempt through without counting it.
	Degraded bool
}

// Store keeps one fixed window per key and performs the check-and-increment
// atomically.
type Store interface {
	Acquire(ctx context.Context, key string, now time.Time, cap int, window time.Duration) (Decision, error)
}

// Limiter applies a fixed-window cap per recipient.
type Limiter struct {
	store  Store
	cap    int
	window time.Duration

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// New creates a limiter. Non-positive cap or window fall back to 30 per 60s.
func New(store Store, cap int, window time.Duration) *Limiter {
	if cap <= 0 {
		cap = DefaultCap
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{store: store, cap: cap, window: window, Now: time.Now}
}

// TryAcquire counts one message for recipient if the window has room.
// A store failure lets the message through and logs a degraded-mode warning.
func (l *Limiter) TryAcquire(ctx context.Context, recipient string) Decision {
	d, err := l.store.Acquire(ctx, recipient, l.Now(), l.cap, l.window)
	if err != nil {
		logging.Log.WithFields(logrus.Fields{
			"recipient": recipient,
			"degraded":  true,
		}).WithError(err).Warn("rate limit store unavailable, allowing send")
		return Decision{Allowed: true, Degraded: true}
	}
	return d
}

// Cap returns the per-window message cap.
func (l *Limiter) Cap() int { return l.cap }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }
