package delaycla

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/delaycla/delay"
	"github.com/opd-ai/delaycla/interfaces"
	"github.com/opd-ai/delaycla/loss"
	"github.com/opd-ai/delaycla/metrics"
	"github.com/opd-ai/delaycla/queue"
	"github.com/opd-ai/delaycla/ratelimit"
	"github.com/opd-ai/delaycla/scheduler"
	"github.com/sirupsen/logrus"
)

// Duct names the direction an engine carries bundles.
type Duct string

const (
	// Induct receives datagrams and hands them to the bundle core.
	Induct Duct = "induct"
	// Outduct takes bundles from the core and sends them to a peer.
	Outduct Duct = "outduct"
)

const (
	// ReceivePollInterval bounds one blocking read on the induct socket.
	ReceivePollInterval = 100 * time.Millisecond

	// DequeueTimeout bounds one Dequeue call on the outduct core.
	DequeueTimeout = 100 * time.Millisecond
)

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(clock interfaces.TimeProvider) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithSleeper replaces the timer based sleeper.
func WithSleeper(sleeper interfaces.Sleeper) Option {
	return func(e *Engine) {
		e.sleeper = sleeper
	}
}

// WithLossSource seeds the loss model from src.
func WithLossSource(src rand.Source) Option {
	return func(e *Engine) {
		e.lossSource = src
	}
}

// OutductCore is the part of the bundle core used by an outduct.
type OutductCore interface {
	interfaces.Dequeuer
	interfaces.NeighborLookup
}

// Engine holds the timed queue, scheduler, models and link of one duct.
type Engine struct {
	duct       Duct
	cfg        interfaces.EngineConfig
	clock      interfaces.TimeProvider
	sleeper    interfaces.Sleeper
	lossSource rand.Source

	delayModel delay.Model
	lossModel  *loss.Model
	lossPolicy loss.Policy
	drops      atomic.Uint64
	queue      *queue.TimedQueue
	sched      *scheduler.Scheduler
	limiter    *ratelimit.Limiter

	// induct side
	receiver  interfaces.PacketReceiver
	acquirer  interfaces.Acquirer
	acquireMu sync.Mutex // one acquisition at a time, whatever the strategy

	// outduct side
	sender  interfaces.PacketSender
	outCore OutductCore

	started  atomic.Bool
	stopping atomic.Bool
	stopCtx  context.Context
	stop     context.CancelFunc
	done     chan struct{}
}

func newEngine(duct Duct, cfg *interfaces.EngineConfig, opts []Option) (*Engine, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		duct: duct,
		cfg:  *cfg,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clock = interfaces.TimeProviderOrDefault(e.clock)
	e.sleeper = interfaces.SleeperOrDefault(e.sleeper)
	e.stopCtx, e.stop = context.WithCancel(context.Background())

	model, err := delay.ByName(cfg.DelayModel, cfg.FixedDelay)
	if err != nil {
		return nil, err
	}
	e.delayModel = model

	if e.lossSource != nil {
		e.lossModel, err = loss.NewWithSource(cfg.LossPercent, e.lossSource)
	} else {
		e.lossModel, err = loss.New(cfg.LossPercent)
	}
	if err != nil {
		return nil, err
	}
	if cfg.LossPolicy == interfaces.LossAtAdmission {
		e.lossPolicy = loss.AtAdmission
	}

	e.queue, err = queue.New(cfg.QueueCapacity, model, e.clock)
	if err != nil {
		return nil, err
	}

	deliver := e.deliverToCore
	if duct == Outduct {
		deliver = e.sendToPeer
		e.limiter = ratelimit.New(cfg.RateLimit, e.clock, e.sleeper)
	}

	e.sched, err = scheduler.New(e.queue, scheduler.Config{
		Name:     string(duct),
		Strategy: e.strategy(),
		Quantum:  cfg.PollQuantum,
		MaxTasks: cfg.MaxDeliveryTasks,
		Clock:    e.clock,
		Sleeper:  e.sleeper,
		Deliver:  deliver,
		OnDrain:  e.discard,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// strategy resolves an empty configured strategy to the duct default.
func (e *Engine) strategy() interfaces.SchedulerStrategy {
	if e.cfg.Strategy != "" {
		return e.cfg.Strategy
	}
	if e.duct == Outduct {
		return interfaces.StrategyDispatch
	}
	return interfaces.StrategyPolling
}

// Duct returns the direction of the engine.
func (e *Engine) Duct() Duct {
	return e.duct
}

// Strategy returns the scheduler strategy in use.
func (e *Engine) Strategy() interfaces.SchedulerStrategy {
	return e.sched.Strategy()
}

// CurrentDelay returns the delay an item admitted now would receive.
func (e *Engine) CurrentDelay() time.Duration {
	return e.delayModel.Delay(e.clock.Now())
}

// LossPercent returns the configured loss percentage.
func (e *Engine) LossPercent() float64 {
	return e.lossModel.Percent()
}

// LossPolicy reports when the loss model is applied.
func (e *Engine) LossPolicy() loss.Policy {
	return e.lossPolicy
}

// Stats holds a snapshot of the engine counters.
type Stats struct {
	Queue     queue.Stats
	Scheduler scheduler.Stats
	Dropped   uint64 // items lost to the loss model
	Paced     time.Duration
}

// Stats returns a snapshot of the queue and scheduler counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Queue:     e.queue.Stats(),
		Scheduler: e.sched.Stats(),
		Dropped:   e.drops.Load(),
	}
	if e.limiter != nil {
		s.Paced = e.limiter.TotalSlept()
	}
	return s
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Stopped is closed when Shutdown is called.
func (e *Engine) Stopped() <-chan struct{} {
	return e.stopCtx.Done()
}

// Stopping reports whether Shutdown has been called.
func (e *Engine) Stopping() bool {
	return e.stopping.Load()
}

// Shutdown asks Run to stop. It only flips a flag and cancels a context, so
// it is safe to call from a signal handler goroutine and more than once.
func (e *Engine) Shutdown() {
	if !e.stopping.CompareAndSwap(false, true) {
		return
	}
	e.stop()
}

// Run carries bundles until ctx is cancelled, Shutdown is called or the link
// fails. On return every goroutine has been joined, undelivered items have
// been discarded and the link socket is closed. The bundle core is left open.
// A non-nil error means the link became unusable.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(e.stopCtx, cancel)
	defer unhook()

	e.logStartup()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = e.sched.Run(runCtx)
	}()

	var err error
	if e.duct == Induct {
		loopDone := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-runCtx.Done():
				e.wakeReceiver()
			case <-loopDone:
			}
		}()
		err = e.receiveLoop(runCtx)
		close(loopDone)
	} else {
		err = e.dequeueLoop(runCtx)
	}

	cancel()
	wg.Wait()
	e.closeLink()
	e.logFinish(err)
	return err
}

func (e *Engine) logStartup() {
	fields := logrus.Fields{
		"function":     "Run",
		"duct":         e.duct,
		"delay_model":  e.delayModel.Name(),
		"delay":        e.CurrentDelay().Seconds(),
		"loss_percent": e.lossModel.Percent(),
		"loss_policy":  e.LossPolicy().String(),
		"strategy":     e.Strategy(),
		"capacity":     e.queue.Capacity(),
	}
	if e.receiver != nil {
		fields["local"] = e.receiver.LocalAddr().String()
	}
	if e.sender != nil {
		fields["peer"] = e.sender.PeerAddr().String()
	}
	logrus.WithFields(fields).Infof("%s running with %.2f second delay and %.1f%% loss",
		e.duct, e.CurrentDelay().Seconds(), e.lossModel.Percent())
}

func (e *Engine) logFinish(err error) {
	stats := e.Stats()
	fields := logrus.Fields{
		"function":  "Run",
		"duct":      e.duct,
		"admitted":  stats.Queue.Admitted,
		"rejected":  stats.Queue.Rejected,
		"delivered": stats.Scheduler.Delivered,
		"dropped":   stats.Dropped,
		"failed":    stats.Scheduler.Failed,
		"drained":   stats.Scheduler.Drained,
	}
	if err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Error("Duct terminated by link failure")
		return
	}
	logrus.WithFields(fields).Info("Duct has ended")
}

func (e *Engine) closeLink() {
	var err error
	switch {
	case e.receiver != nil:
		err = e.receiver.Close()
	case e.sender != nil:
		err = e.sender.Close()
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "closeLink",
			"duct":     e.duct,
			"error":    err.Error(),
		}).Warn("Failed to close link socket")
	}
}

// admitted records a successful admission.
func (e *Engine) admitted(item *queue.Item) {
	label := string(e.duct)
	metrics.ItemsAdmitted.WithLabelValues(label).Inc()
	metrics.DelaySeconds.WithLabelValues(label).Observe(item.Delay.Seconds())
	metrics.QueueDepth.WithLabelValues(label).Set(float64(e.queue.Len()))
}

// rejected logs and counts one refused item.
func (e *Engine) rejected(reason string, err *OpError) {
	metrics.ItemsRejected.WithLabelValues(string(e.duct), reason).Inc()
	logrus.WithFields(logrus.Fields{
		"function": "admit",
		"duct":     e.duct,
		"op":       err.Op,
		"peer":     err.Peer,
		"reason":   reason,
		"error":    err.Err.Error(),
	}).Warn("Item refused")
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return "full"
	case errors.Is(err, queue.ErrQueueClosed):
		return "closed"
	default:
		return "invalid"
	}
}

// lostAtAdmission applies the loss model to an arriving item when the
// policy is loss.AtAdmission.
func (e *Engine) lostAtAdmission(item *queue.Item) bool {
	return e.lossPolicy == loss.AtAdmission && e.dropped(item)
}

// lostAtRelease applies the loss model to a released item when the policy
// is loss.AtRelease.
func (e *Engine) lostAtRelease(item *queue.Item) bool {
	return e.lossPolicy == loss.AtRelease && e.dropped(item)
}

// dropped draws from the loss model. It reports true and discards the
// payload when the item is lost.
func (e *Engine) dropped(item *queue.Item) bool {
	if !e.lossModel.ShouldDrop() {
		return false
	}
	n := len(item.TakePayload())
	e.drops.Add(1)
	metrics.ItemsDropped.WithLabelValues(string(e.duct)).Inc()
	logrus.WithFields(logrus.Fields{
		"function": "dropped",
		"duct":     e.duct,
		"item":     item.ID,
		"bytes":    n,
		"policy":   e.lossPolicy.String(),
	}).Debug("Item lost on simulated link")
	return true
}

// delivered records a successful delivery of n bytes.
func (e *Engine) delivered(item *queue.Item, n int) {
	label := string(e.duct)
	metrics.ItemsDelivered.WithLabelValues(label).Inc()
	metrics.BytesDelivered.WithLabelValues(label).Add(float64(n))
	metrics.LatenessSeconds.WithLabelValues(label).Observe(e.clock.Now().Sub(item.ReleaseTime).Seconds())
	metrics.QueueDepth.WithLabelValues(label).Set(float64(e.queue.Len()))
	metrics.DeliveryTasksInflight.WithLabelValues(label).Set(float64(e.sched.Stats().InFlight))
}

// failed counts a delivery failure unless it only signals shutdown.
func (e *Engine) failed(err *OpError) error {
	if !scheduler.IsBenign(err) {
		metrics.DeliveryFailures.WithLabelValues(string(e.duct), err.Op).Inc()
	}
	return err
}

// discard receives the items left at shutdown.
func (e *Engine) discard(items []*queue.Item) {
	label := string(e.duct)
	metrics.QueueDepth.WithLabelValues(label).Set(0)
	metrics.DeliveryTasksInflight.WithLabelValues(label).Set(0)
	if len(items) == 0 {
		return
	}

	var bytes int
	for _, item := range items {
		bytes += len(item.TakePayload())
	}
	metrics.ItemsDrained.WithLabelValues(label).Add(float64(len(items)))
	logrus.WithFields(logrus.Fields{
		"function": "discard",
		"duct":     e.duct,
		"items":    len(items),
		"bytes":    bytes,
	}).Info("Discarded undelivered items at shutdown")
}
