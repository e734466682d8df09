package interfaces

import (
	"context"
	"time"
)

// TimeProvider abstracts the wall clock for deterministic testing.
// Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
}

// Sleeper abstracts blocking sleeps so that pacing and residual waits can be
// observed in tests without consuming wall-clock time.
type Sleeper interface {
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealTimeProvider implements TimeProvider using the system clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// RealSleeper implements Sleeper with a timer.
type RealSleeper struct{}

// Sleep pauses for d. A non-positive d returns immediately.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TimeProviderOrDefault returns tp, or RealTimeProvider when tp is nil.
func TimeProviderOrDefault(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return RealTimeProvider{}
}

// SleeperOrDefault returns s, or RealSleeper when s is nil.
func SleeperOrDefault(s Sleeper) Sleeper {
	if s != nil {
		return s
	}
	return RealSleeper{}
}
