// Package ratelimit paces egress sends so a link never carries more than its
// nominal transmission rate.
//
// The limiter bills each send: the time a send of n bytes occupies the link
// is charged against the time that has elapsed since the previous send, and
// any balance still due is slept off before returning.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/opd-ai/delaycla/interfaces"
	"github.com/sirupsen/logrus"
)

// Limiter implements billing-style pacing. It is safe for concurrent use;
// concurrent callers are serialised so their bills accumulate in order.
type Limiter struct {
	// Enabled turns pacing on. A disabled limiter never sleeps.
	Enabled bool

	mu          sync.Mutex
	clock       interfaces.TimeProvider
	sleeper     interfaces.Sleeper
	lastBill    time.Time
	prevBalance time.Duration
	totalSlept  time.Duration
}

// New returns a limiter. Nil clock or sleeper fall back to the system ones.
func New(enabled bool, clock interfaces.TimeProvider, sleeper interfaces.Sleeper) *Limiter {
	return &Limiter{
		Enabled: enabled,
		clock:   interfaces.TimeProviderOrDefault(clock),
		sleeper: interfaces.SleeperOrDefault(sleeper),
	}
}

// Pace bills a send of n bytes at rate bytes per second and sleeps off the
// balance due. A non-positive rate skips pacing. It returns ctx.Err() if the
// sleep is interrupted.
func (l *Limiter) Pace(ctx context.Context, n int, rate float64) error {
	_, err := l.Bill(ctx, n, rate)
	return err
}

// Bill is Pace that also returns the time slept for this send.
func (l *Limiter) Bill(ctx context.Context, n int, rate float64) (time.Duration, error) {
	if l == nil || !l.Enabled {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	var elapsed time.Duration
	if !l.lastBill.IsZero() {
		elapsed = now.Sub(l.lastBill)
	}
	l.lastBill = now

	credit := elapsed - l.prevBalance
	if credit < 0 {
		credit = 0
	}

	due := Cost(n, rate) - credit
	if due < 0 {
		due = 0
	}
	l.prevBalance = due

	if due == 0 {
		return 0, nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Bill",
		"bytes":    n,
		"rate":     rate,
		"due":      due,
	}).Debug("Pacing egress send")

	l.totalSlept += due
	return due, l.sleeper.Sleep(ctx, due)
}

// TotalSlept returns the cumulative pacing sleep requested so far.
func (l *Limiter) TotalSlept() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSlept
}

// Cost returns the link time taken by n bytes at rate bytes per second, with
// microsecond resolution. A non-positive rate costs nothing.
func Cost(n int, rate float64) time.Duration {
	if rate <= 0 || n <= 0 {
		return 0
	}
	micros := int64(float64(n) / rate * 1e6)
	return time.Duration(micros) * time.Microsecond
}
