// Package loss implements the simulated link loss decision.
package loss

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrInvalidPercentage indicates a loss percentage outside [0, 100].
var ErrInvalidPercentage = errors.New("loss percentage out of range")

// Policy names the point at which the drop decision is taken.
type Policy uint8

const (
	// AtRelease decides when the delay has elapsed, just before delivery.
	AtRelease Policy = iota
	// AtAdmission decides when the item enters the queue.
	AtAdmission
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case AtRelease:
		return "at-release"
	case AtAdmission:
		return "at-admission"
	default:
		return "unknown"
	}
}

// Model returns independent drop decisions with a fixed probability.
// It is safe for concurrent use.
type Model struct {
	percent float64

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a model dropping percent% of items, seeded from the clock.
func New(percent float64) (*Model, error) {
	now := uint64(time.Now().UnixNano())
	return NewWithSource(percent, rand.NewPCG(now, now>>32|1))
}

// NewWithSource creates a model drawing from src, for reproducible runs.
func NewWithSource(percent float64, src rand.Source) (*Model, error) {
	if percent < 0 || percent > 100 || percent != percent {
		return nil, fmt.Errorf("%w: %g", ErrInvalidPercentage, percent)
	}
	return &Model{
		percent: percent,
		rng:     rand.New(src),
	}, nil
}

// Percent returns the configured loss percentage.
func (m *Model) Percent() float64 {
	return m.percent
}

// ShouldDrop reports whether the next item is lost. A zero percentage never
// touches the random source.
func (m *Model) ShouldDrop() bool {
	if m == nil || m.percent <= 0 {
		return false
	}
	if m.percent >= 100 {
		return true
	}

	m.mu.Lock()
	draw := m.rng.Float64() * 100
	m.mu.Unlock()

	return draw < m.percent
}
