package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/delaycla/interfaces"
	"github.com/sirupsen/logrus"
)

// Step names an acquisition step for failure injection.
type Step uint8

const (
	StepBegin Step = iota
	StepContinue
	StepEnd
	StepCancel
)

var (
	// ErrNoAcquisition indicates a step was called without BeginAcquisition.
	ErrNoAcquisition = errors.New("no acquisition in progress")

	// ErrAcquisitionInProgress indicates BeginAcquisition was called twice.
	ErrAcquisitionInProgress = errors.New("acquisition already in progress")

	// ErrInjected is the default error returned by an injected failure.
	ErrInjected = errors.New("injected failure")
)

// DeliveryRecord represents one finished acquisition for test verification
type DeliveryRecord struct {
	Payload   []byte
	Size      int
	Timestamp int64
	Success   bool
	Cancelled bool
	Error     error
}

// SimulatedBundleCore implements interfaces.BundleCore in memory.
type SimulatedBundleCore struct {
	mu          sync.Mutex
	deliveryLog []DeliveryRecord
	acquiring   bool
	buffer      []byte
	failures    map[Step]error
	calls       []Step
	rate        float64
	closed      bool

	feed     chan interfaces.Outbound
	closedCh chan struct{}
}

// NewSimulatedBundleCore creates an in-memory core. The transmit rate and
// feed capacity are taken from cfg; a nil cfg uses an unknown rate.
func NewSimulatedBundleCore(cfg *interfaces.EngineConfig) *SimulatedBundleCore {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")

	feedSize := 64
	var rate float64
	if cfg != nil {
		rate = cfg.TransmitRate
		if cfg.QueueCapacity > feedSize {
			feedSize = cfg.QueueCapacity
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewSimulatedBundleCore",
		"transmit_rate": rate,
		"feed_size":     feedSize,
	}).Info("Creating simulated bundle core")

	return &SimulatedBundleCore{
		deliveryLog: make([]DeliveryRecord, 0),
		failures:    make(map[Step]error),
		rate:        rate,
		feed:        make(chan interfaces.Outbound, feedSize),
		closedCh:    make(chan struct{}),
	}
}

// BeginAcquisition implements interfaces.Acquirer.
func (s *SimulatedBundleCore) BeginAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, StepBegin)
	if s.closed {
		return interfaces.ErrCoreShutdown
	}
	if err := s.takeFailure(StepBegin); err != nil {
		return err
	}
	if s.acquiring {
		return ErrAcquisitionInProgress
	}
	s.acquiring = true
	s.buffer = s.buffer[:0]
	return nil
}

// ContinueAcquisition implements interfaces.Acquirer.
func (s *SimulatedBundleCore) ContinueAcquisition(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, StepContinue)
	if !s.acquiring {
		return ErrNoAcquisition
	}
	if s.closed {
		return interfaces.ErrCoreShutdown
	}
	if err := s.takeFailure(StepContinue); err != nil {
		return err
	}
	s.buffer = append(s.buffer, data...)
	return nil
}

// EndAcquisition implements interfaces.Acquirer.
func (s *SimulatedBundleCore) EndAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, StepEnd)
	if !s.acquiring {
		return ErrNoAcquisition
	}
	if s.closed {
		return interfaces.ErrCoreShutdown
	}
	if err := s.takeFailure(StepEnd); err != nil {
		return err
	}

	payload := make([]byte, len(s.buffer))
	copy(payload, s.buffer)
	s.acquiring = false
	s.deliveryLog = append(s.deliveryLog, DeliveryRecord{
		Payload:   payload,
		Size:      len(payload),
		Timestamp: time.Now().UnixNano(),
		Success:   true,
	})

	logrus.WithFields(logrus.Fields{
		"function":         "SimulatedBundleCore.EndAcquisition",
		"bundle_size":      len(payload),
		"total_deliveries": len(s.deliveryLog),
	}).Debug("Bundle acquisition simulated successfully")
	return nil
}

// CancelAcquisition implements interfaces.Acquirer.
func (s *SimulatedBundleCore) CancelAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, StepCancel)
	if !s.acquiring {
		return ErrNoAcquisition
	}
	s.acquiring = false
	s.deliveryLog = append(s.deliveryLog, DeliveryRecord{
		Size:      len(s.buffer),
		Timestamp: time.Now().UnixNano(),
		Cancelled: true,
	})
	s.buffer = s.buffer[:0]
	return s.takeFailure(StepCancel)
}

// Dequeue implements interfaces.Dequeuer. Fed bundles are returned before
// the closed status.
func (s *SimulatedBundleCore) Dequeue(ctx context.Context, timeout time.Duration) (interfaces.Outbound, error) {
	select {
	case out := <-s.feed:
		return out, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-s.feed:
		return out, nil
	case <-s.closedCh:
		select {
		case out := <-s.feed:
			return out, nil
		default:
			return interfaces.Outbound{Status: interfaces.DequeueClosed}, nil
		}
	case <-timer.C:
		return interfaces.Outbound{Status: interfaces.DequeueEmpty}, nil
	case <-ctx.Done():
		return interfaces.Outbound{}, ctx.Err()
	}
}

// TransmitRate implements interfaces.NeighborLookup.
func (s *SimulatedBundleCore) TransmitRate() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate, s.rate > 0
}

// SetTransmitRate changes the simulated neighbor link rate.
func (s *SimulatedBundleCore) SetTransmitRate(bytesPerSecond float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = bytesPerSecond
}

// Feed queues a bundle for the outduct. It returns an error if the feed is
// full or the core is closed.
func (s *SimulatedBundleCore) Feed(payload []byte) error {
	return s.push(interfaces.Outbound{Status: interfaces.DequeueBundle, Payload: payload})
}

// FeedCorrupt queues a corrupt result for the outduct.
func (s *SimulatedBundleCore) FeedCorrupt() error {
	return s.push(interfaces.Outbound{Status: interfaces.DequeueCorrupt})
}

func (s *SimulatedBundleCore) push(out interfaces.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return interfaces.ErrCoreShutdown
	}
	select {
	case s.feed <- out:
		return nil
	default:
		return fmt.Errorf("simulated feed full (%d bundles)", cap(s.feed))
	}
}

// FailNext makes the next call to step return err, or ErrInjected if err is
// nil.
func (s *SimulatedBundleCore) FailNext(step Step, err error) {
	if err == nil {
		err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[step] = err
}

// Calls returns the sequence of acquisition steps invoked so far.
func (s *SimulatedBundleCore) Calls() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Step, len(s.calls))
	copy(out, s.calls)
	return out
}

// GetDeliveryLog returns a copy of the delivery log.
func (s *SimulatedBundleCore) GetDeliveryLog() []DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeliveryRecord, len(s.deliveryLog))
	copy(out, s.deliveryLog)
	return out
}

// ClearDeliveryLog resets the delivery log and the call history.
func (s *SimulatedBundleCore) ClearDeliveryLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveryLog = s.deliveryLog[:0]
	s.calls = s.calls[:0]
}

// IsSimulation reports true.
func (s *SimulatedBundleCore) IsSimulation() bool {
	return true
}

// Close marks the core as shutting down. Pending Dequeue calls return
// DequeueClosed once the feed is empty.
func (s *SimulatedBundleCore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closedCh)
	return nil
}

func (s *SimulatedBundleCore) takeFailure(step Step) error {
	err, ok := s.failures[step]
	if !ok {
		return nil
	}
	delete(s.failures, step)
	return err
}
