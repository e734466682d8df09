package interfaces

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// DelayModelNames lists the accepted values of EngineConfig.DelayModel.
var DelayModelNames = []string{"fixed", "mars", "moon"}

// SchedulerStrategy selects how ready items are released from the queue.
type SchedulerStrategy string

const (
	// StrategyPolling releases ready items inline from a single poll loop.
	StrategyPolling SchedulerStrategy = "polling"
	// StrategyDispatch starts one bounded delivery task per ready item.
	StrategyDispatch SchedulerStrategy = "dispatch"
)

// LossPolicy selects when the loss model decides whether an item is lost.
type LossPolicy string

const (
	// LossAtRelease decides once the delay has elapsed, just before delivery.
	LossAtRelease LossPolicy = "release"
	// LossAtAdmission decides as the item arrives. Lost items never occupy
	// queue capacity.
	LossAtAdmission LossPolicy = "admission"
)

// Configuration errors returned by EngineConfig.Validate.
var (
	ErrInvalidCapacity     = errors.New("queue capacity must be positive")
	ErrInvalidLoss         = errors.New("loss percentage must be within [0, 100]")
	ErrInvalidLossPolicy   = errors.New("unknown loss policy")
	ErrInvalidDelayModel   = errors.New("unknown delay model")
	ErrInvalidFixedDelay   = errors.New("fixed delay must not be negative")
	ErrInvalidQuantum      = errors.New("poll quantum must be positive")
	ErrInvalidStrategy     = errors.New("unknown scheduler strategy")
	ErrInvalidMaxTasks     = errors.New("max delivery tasks must be positive")
	ErrInvalidAdmitWait    = errors.New("admit wait must not be negative")
	ErrInvalidTransmitRate = errors.New("transmit rate must not be negative")
)

// EngineConfig holds the startup constants of a delay engine.
type EngineConfig struct {
	// QueueCapacity bounds the number of in-flight items.
	QueueCapacity int

	// LossPercent is the simulated link loss in [0, 100].
	LossPercent float64

	// LossPolicy selects when loss is applied. When empty items are dropped
	// at release.
	LossPolicy LossPolicy

	// DelayModel names the propagation model, one of DelayModelNames.
	DelayModel string

	// FixedDelay is the delay used by the "fixed" model.
	FixedDelay time.Duration

	// PollQuantum is the scheduler scan interval.
	PollQuantum time.Duration

	// Strategy selects the scheduler strategy for both ducts. When empty the
	// induct polls and the outduct dispatches.
	Strategy SchedulerStrategy

	// MaxDeliveryTasks caps concurrent delivery tasks for StrategyDispatch.
	MaxDeliveryTasks int

	// RateLimit enables egress pacing.
	RateLimit bool

	// AdmitWait bounds how long the outduct waits for queue space.
	// Zero means admission fails immediately when the queue is full.
	AdmitWait time.Duration

	// UseSimulation selects the in-memory bundle core instead of the relay core.
	UseSimulation bool

	// CoreForwardAddr is where the relay core forwards acquired bundles.
	CoreForwardAddr string

	// CoreFeedAddr is where the relay core listens for bundles to transmit.
	CoreFeedAddr string

	// TransmitRate is the neighbor link rate in bytes per second (0 = unknown).
	TransmitRate float64

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string
}

// Validate checks that every field is within its accepted range.
func (c *EngineConfig) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, c.QueueCapacity)
	}
	if c.LossPercent < 0 || c.LossPercent > 100 {
		return fmt.Errorf("%w: %g", ErrInvalidLoss, c.LossPercent)
	}
	switch c.LossPolicy {
	case "", LossAtRelease, LossAtAdmission:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLossPolicy, c.LossPolicy)
	}
	if !slices.Contains(DelayModelNames, c.DelayModel) {
		return fmt.Errorf("%w: %q", ErrInvalidDelayModel, c.DelayModel)
	}
	if c.FixedDelay < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFixedDelay, c.FixedDelay)
	}
	if c.PollQuantum <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidQuantum, c.PollQuantum)
	}
	switch c.Strategy {
	case "", StrategyPolling, StrategyDispatch:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, c.Strategy)
	}
	if c.MaxDeliveryTasks <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTasks, c.MaxDeliveryTasks)
	}
	if c.AdmitWait < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAdmitWait, c.AdmitWait)
	}
	if c.TransmitRate < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidTransmitRate, c.TransmitRate)
	}
	return nil
}
