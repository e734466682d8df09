// Package scheduler releases items from a TimedQueue once their delay has
// elapsed and hands them to a delivery function.
//
// Two strategies are available. Polling scans the queue every quantum, or
// sooner when the next release is closer, and delivers ready items inline. Dispatch scans one quantum ahead and starts a
// bounded delivery task per item which sleeps the residual time until the
// exact release time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/delaycla/interfaces"
	"github.com/opd-ai/delaycla/queue"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultQuantum is the scan interval used when none is configured.
	DefaultQuantum = 10 * time.Millisecond
	// DefaultMaxTasks caps concurrent delivery tasks in Dispatch mode.
	DefaultMaxTasks = 50
)

var (
	// ErrNoDeliver indicates the scheduler was built without a delivery function.
	ErrNoDeliver = errors.New("scheduler requires a delivery function")
	// ErrNilQueue indicates the scheduler was built without a queue.
	ErrNilQueue = errors.New("scheduler requires a queue")
	// ErrAlreadyRunning is returned by Run when the scheduler is running.
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// DeliverFunc delivers or drops one released item. A returned error is
// logged and the item is still released.
type DeliverFunc func(ctx context.Context, item *queue.Item) error

// operation is implemented by delivery errors that name their failing step.
type operation interface {
	Operation() string
}

// DrainFunc receives the items left in the queue at shutdown.
type DrainFunc func(items []*queue.Item)

// Config configures a Scheduler.
type Config struct {
	// Name labels log entries, typically "induct" or "outduct".
	Name     string
	Strategy interfaces.SchedulerStrategy
	Quantum  time.Duration
	MaxTasks int
	Clock    interfaces.TimeProvider
	Sleeper  interfaces.Sleeper
	Deliver  DeliverFunc
	// OnDrain is called once after Run has joined every delivery task. When
	// nil the drained payloads are discarded and logged.
	OnDrain DrainFunc
}

// Stats counts scheduler outcomes.
type Stats struct {
	Delivered uint64
	Failed    uint64
	Drained   uint64
	InFlight  int64
}

// Scheduler moves ready items out of a TimedQueue.
type Scheduler struct {
	q       *queue.TimedQueue
	cfg     Config
	clock   interfaces.TimeProvider
	sleeper interfaces.Sleeper
	sem     *semaphore.Weighted
	tasks   sync.WaitGroup
	running atomic.Bool

	delivered atomic.Uint64
	failed    atomic.Uint64
	drained   atomic.Uint64
	inFlight  atomic.Int64
}

// New validates cfg, fills defaults and returns a scheduler for q.
func New(q *queue.TimedQueue, cfg Config) (*Scheduler, error) {
	if q == nil {
		return nil, ErrNilQueue
	}
	if cfg.Deliver == nil {
		return nil, ErrNoDeliver
	}
	if cfg.Quantum <= 0 {
		cfg.Quantum = DefaultQuantum
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = DefaultMaxTasks
	}
	switch cfg.Strategy {
	case "":
		cfg.Strategy = interfaces.StrategyPolling
	case interfaces.StrategyPolling, interfaces.StrategyDispatch:
	default:
		return nil, fmt.Errorf("%w: %q", interfaces.ErrInvalidStrategy, cfg.Strategy)
	}

	return &Scheduler{
		q:       q,
		cfg:     cfg,
		clock:   interfaces.TimeProviderOrDefault(cfg.Clock),
		sleeper: interfaces.SleeperOrDefault(cfg.Sleeper),
		sem:     semaphore.NewWeighted(int64(cfg.MaxTasks)),
	}, nil
}

// Strategy returns the configured strategy.
func (s *Scheduler) Strategy() interfaces.SchedulerStrategy {
	return s.cfg.Strategy
}

// Stats returns a snapshot of the outcome counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
		Drained:   s.drained.Load(),
		InFlight:  s.inFlight.Load(),
	}
}

// Run scans the queue until ctx is done. On the way out it joins every
// delivery task, drains the queue and passes the drained items to OnDrain.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"name":     s.cfg.Name,
		"strategy": s.cfg.Strategy,
		"quantum":  s.cfg.Quantum,
	}).Debug("Scheduler started")

	for ctx.Err() == nil {
		if s.cfg.Strategy == interfaces.StrategyDispatch {
			s.dispatchReady(ctx)
		} else {
			s.pollReady(ctx)
		}
		s.q.Compact()

		if err := s.sleeper.Sleep(ctx, s.pause()); err != nil {
			break
		}
	}

	s.tasks.Wait()
	s.drain()

	logrus.WithFields(logrus.Fields{
		"function":  "Run",
		"name":      s.cfg.Name,
		"delivered": s.delivered.Load(),
		"failed":    s.failed.Load(),
		"drained":   s.drained.Load(),
	}).Debug("Scheduler stopped")
	return nil
}

// pause returns the time to the next scan. Polling wakes early when the next
// release falls inside the quantum. Dispatch already looks a quantum ahead.
func (s *Scheduler) pause() time.Duration {
	if s.cfg.Strategy != interfaces.StrategyPolling {
		return s.cfg.Quantum
	}
	next, ok := s.q.NextRelease()
	if !ok {
		return s.cfg.Quantum
	}
	return max(0, min(s.cfg.Quantum, next.Sub(s.clock.Now())))
}

// pollReady delivers every item that is ready now, inline.
func (s *Scheduler) pollReady(ctx context.Context) {
	for _, item := range s.q.ScanReady(s.clock.Now()) {
		if ctx.Err() != nil {
			// Remaining items stay dispatched and are drained.
			return
		}
		s.deliver(ctx, item)
	}
}

// dispatchReady starts a delivery task for every item releasing within the
// next quantum.
func (s *Scheduler) dispatchReady(ctx context.Context) {
	horizon := s.clock.Now().Add(s.cfg.Quantum)
	for _, item := range s.q.ScanReady(horizon) {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		s.tasks.Add(1)
		s.inFlight.Add(1)
		go s.deliverAt(ctx, item)
	}
}

// deliverAt sleeps until the item's exact release time, then delivers it.
// On cancellation it returns without releasing so the item is drained.
func (s *Scheduler) deliverAt(ctx context.Context, item *queue.Item) {
	defer s.tasks.Done()
	defer s.inFlight.Add(-1)
	defer s.sem.Release(1)

	for {
		residual := item.ReleaseTime.Sub(s.clock.Now())
		if residual <= 0 {
			break
		}
		if err := s.sleeper.Sleep(ctx, residual); err != nil {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	s.deliver(ctx, item)
}

func (s *Scheduler) deliver(ctx context.Context, item *queue.Item) {
	err := s.cfg.Deliver(ctx, item)
	s.q.Release(item)
	if err == nil {
		s.delivered.Add(1)
		return
	}

	s.failed.Add(1)
	fields := logrus.Fields{
		"function": "deliver",
		"name":     s.cfg.Name,
		"item":     item.ID,
		"error":    err.Error(),
	}
	if item.Origin != nil {
		fields["peer"] = item.Origin.String()
	}
	var named operation
	if errors.As(err, &named) {
		fields["op"] = named.Operation()
	}
	if IsBenign(err) {
		logrus.WithFields(fields).Debug("Delivery interrupted by shutdown")
		return
	}
	logrus.WithFields(fields).Warn("Delivery failed")
}

func (s *Scheduler) drain() {
	items := s.q.DrainAll()
	s.drained.Add(uint64(len(items)))
	if s.cfg.OnDrain != nil {
		s.cfg.OnDrain(items)
		return
	}
	for _, item := range items {
		n := len(item.TakePayload())
		logrus.WithFields(logrus.Fields{
			"function": "drain",
			"name":     s.cfg.Name,
			"item":     item.ID,
			"bytes":    n,
		}).Debug("Discarded undelivered item")
	}
}

// IsBenign reports whether err only signals that shutdown is in progress.
func IsBenign(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, interfaces.ErrCoreShutdown) ||
		errors.Is(err, queue.ErrQueueClosed)
}
