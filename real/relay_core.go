package real

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/delaycla/interfaces"
	"github.com/opd-ai/delaycla/limits"
	"github.com/opd-ai/delaycla/transport"
	"github.com/sirupsen/logrus"
)

// DefaultRetryAttempts is the number of forwarding attempts per bundle.
const DefaultRetryAttempts = 3

var (
	// ErrNoForwarder indicates acquisition on a core without a forward address.
	ErrNoForwarder = errors.New("relay core has no forward address")

	// ErrNoAcquisition indicates a step was called without BeginAcquisition.
	ErrNoAcquisition = errors.New("no acquisition in progress")

	// ErrAcquisitionInProgress indicates BeginAcquisition was called twice.
	ErrAcquisitionInProgress = errors.New("acquisition already in progress")
)

// Sides selects which relay sockets DialRelayCore opens.
type Sides uint8

const (
	// ForwardSide opens the socket acquired bundles are sent through.
	ForwardSide Sides = 1 << iota
	// FeedSide binds the socket outbound bundles are read from.
	FeedSide

	// BothSides opens both sockets.
	BothSides = ForwardSide | FeedSide
)

// RelayStats counts relay core activity.
type RelayStats struct {
	Forwarded     uint64
	ForwardFailed uint64
	Cancelled     uint64
	Dequeued      uint64
	Corrupt       uint64
}

// RelayCore implements interfaces.BundleCore by relaying bundles over UDP to
// and from a local bundle protocol agent.
type RelayCore struct {
	mu        sync.Mutex
	forward   interfaces.PacketSender
	feed      interfaces.PacketReceiver
	rate      float64
	retries   int
	sleeper   interfaces.Sleeper
	acquiring bool
	buffer    []byte

	readMu  sync.Mutex
	readBuf []byte

	closed  atomic.Bool
	stopCtx context.Context
	stop    context.CancelFunc
	stats   RelayStats
}

// NewRelayCore wraps already opened sockets. Either may be nil.
func NewRelayCore(forward interfaces.PacketSender, feed interfaces.PacketReceiver, cfg *interfaces.EngineConfig) *RelayCore {
	var rate float64
	if cfg != nil {
		rate = cfg.TransmitRate
	}

	fields := logrus.Fields{
		"function":      "NewRelayCore",
		"transmit_rate": rate,
	}
	if forward != nil {
		fields["forward"] = forward.PeerAddr().String()
	}
	if feed != nil {
		fields["feed"] = feed.LocalAddr().String()
	}
	logrus.WithFields(fields).Info("Creating relay bundle core")

	r := &RelayCore{
		forward: forward,
		feed:    feed,
		rate:    rate,
		retries: DefaultRetryAttempts,
		sleeper: interfaces.RealSleeper{},
		readBuf: make([]byte, limits.ReceiveBufferSize),
	}
	r.stopCtx, r.stop = context.WithCancel(context.Background())
	return r
}

// DialRelayCore opens the sockets named by cfg.CoreForwardAddr and
// cfg.CoreFeedAddr, limited to the requested sides. An induct only needs
// ForwardSide and an outduct only FeedSide, so both ducts can share a host.
// Empty addresses leave that side unconfigured.
func DialRelayCore(cfg *interfaces.EngineConfig, sides Sides) (*RelayCore, error) {
	var (
		forward interfaces.PacketSender
		feed    interfaces.PacketReceiver
	)

	if sides&ForwardSide != 0 && cfg.CoreForwardAddr != "" {
		ep, err := transport.ParseEndpoint(cfg.CoreForwardAddr, "127.0.0.1")
		if err != nil {
			return nil, fmt.Errorf("core forward address: %w", err)
		}
		sender, err := transport.Dial(ep)
		if err != nil {
			return nil, fmt.Errorf("core forward address: %w", err)
		}
		forward = sender
	}

	if sides&FeedSide != 0 && cfg.CoreFeedAddr != "" {
		ep, err := transport.ParseEndpoint(cfg.CoreFeedAddr, "127.0.0.1")
		if err != nil {
			closeQuietly(forward)
			return nil, fmt.Errorf("core feed address: %w", err)
		}
		receiver, err := transport.Listen(ep)
		if err != nil {
			closeQuietly(forward)
			return nil, fmt.Errorf("core feed address: %w", err)
		}
		feed = receiver
	}

	return NewRelayCore(forward, feed, cfg), nil
}

// SetSleeper sets a custom Sleeper implementation (primarily for testing).
func (r *RelayCore) SetSleeper(s interfaces.Sleeper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeper = interfaces.SleeperOrDefault(s)
}

// SetRetryAttempts sets the number of forwarding attempts per bundle.
func (r *RelayCore) SetRetryAttempts(n int) {
	if n < 1 {
		n = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = n
}

// BeginAcquisition implements interfaces.Acquirer.
func (r *RelayCore) BeginAcquisition() error {
	if r.closed.Load() {
		return interfaces.ErrCoreShutdown
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.forward == nil {
		return ErrNoForwarder
	}
	if r.acquiring {
		return ErrAcquisitionInProgress
	}
	r.acquiring = true
	r.buffer = r.buffer[:0]
	return nil
}

// ContinueAcquisition implements interfaces.Acquirer.
func (r *RelayCore) ContinueAcquisition(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.acquiring {
		return ErrNoAcquisition
	}
	if r.closed.Load() {
		return interfaces.ErrCoreShutdown
	}
	if len(r.buffer)+len(data) > limits.MaxDatagramPayload {
		return fmt.Errorf("%w: size %d exceeds limit %d",
			limits.ErrBundleTooLarge, len(r.buffer)+len(data), limits.MaxDatagramPayload)
	}
	r.buffer = append(r.buffer, data...)
	return nil
}

// EndAcquisition implements interfaces.Acquirer. The assembled bundle is
// forwarded as one datagram. The lock is released while forwarding so Close
// can interrupt the retry backoff.
func (r *RelayCore) EndAcquisition() error {
	r.mu.Lock()
	if !r.acquiring {
		r.mu.Unlock()
		return ErrNoAcquisition
	}
	if err := limits.ValidateBundle(r.buffer); err != nil {
		r.mu.Unlock()
		return err
	}
	bundle := make([]byte, len(r.buffer))
	copy(bundle, r.buffer)
	forward, retries, sleeper := r.forward, r.retries, r.sleeper
	r.mu.Unlock()

	err := r.forwardWithRetries(forward, retries, sleeper, bundle)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.stats.ForwardFailed++
		return err
	}
	r.acquiring = false
	r.buffer = r.buffer[:0]
	r.stats.Forwarded++
	return nil
}

// CancelAcquisition implements interfaces.Acquirer.
func (r *RelayCore) CancelAcquisition() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.acquiring {
		return ErrNoAcquisition
	}
	r.acquiring = false
	r.buffer = r.buffer[:0]
	r.stats.Cancelled++
	return nil
}

// forwardWithRetries sends the bundle, backing off linearly between attempts.
// The backoff ends early when the core is closed.
func (r *RelayCore) forwardWithRetries(forward interfaces.PacketSender, retries int, sleeper interfaces.Sleeper, bundle []byte) error {
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if r.closed.Load() {
			return interfaces.ErrCoreShutdown
		}
		_, err := forward.SendPacket(bundle)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function":    "RelayCore.EndAcquisition",
				"bundle_size": len(bundle),
				"attempt":     attempt + 1,
			}).Debug("Bundle forwarded to core")
			return nil
		}
		if errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("%w: %v", interfaces.ErrCoreShutdown, err)
		}

		lastErr = err
		logrus.WithFields(logrus.Fields{
			"function": "RelayCore.EndAcquisition",
			"peer":     forward.PeerAddr().String(),
			"attempt":  attempt + 1,
			"error":    err.Error(),
		}).Warn("Bundle forward attempt failed, retrying")

		if attempt < retries-1 {
			backoff := time.Duration(500*(attempt+1)) * time.Millisecond
			if err := sleeper.Sleep(r.stopCtx, backoff); err != nil {
				return fmt.Errorf("%w: %v", interfaces.ErrCoreShutdown, lastErr)
			}
		}
	}
	return fmt.Errorf("failed to forward bundle after %d attempts: %w", retries, lastErr)
}

// Dequeue implements interfaces.Dequeuer by reading one datagram from the
// feed socket.
func (r *RelayCore) Dequeue(ctx context.Context, timeout time.Duration) (interfaces.Outbound, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Outbound{}, err
	}
	if r.feed == nil || r.closed.Load() {
		return interfaces.Outbound{Status: interfaces.DequeueClosed}, nil
	}

	r.readMu.Lock()
	defer r.readMu.Unlock()

	n, _, err := r.feed.ReadPacket(r.readBuf, timeout)
	switch {
	case err == nil:
	case transport.IsTimeout(err):
		return interfaces.Outbound{Status: interfaces.DequeueEmpty}, nil
	case errors.Is(err, transport.ErrClosed) || r.closed.Load():
		return interfaces.Outbound{Status: interfaces.DequeueClosed}, nil
	default:
		return interfaces.Outbound{}, fmt.Errorf("read core feed: %w", err)
	}

	if n == 0 || n > limits.MaxDatagramPayload {
		r.mu.Lock()
		r.stats.Corrupt++
		r.mu.Unlock()
		return interfaces.Outbound{Status: interfaces.DequeueCorrupt}, nil
	}

	payload := make([]byte, n)
	copy(payload, r.readBuf[:n])
	r.mu.Lock()
	r.stats.Dequeued++
	r.mu.Unlock()
	return interfaces.Outbound{Status: interfaces.DequeueBundle, Payload: payload}, nil
}

// TransmitRate implements interfaces.NeighborLookup.
func (r *RelayCore) TransmitRate() (float64, bool) {
	return r.rate, r.rate > 0
}

// IsSimulation reports false.
func (r *RelayCore) IsSimulation() bool {
	return false
}

// GetTypedStats returns a snapshot of relay counters.
func (r *RelayCore) GetTypedStats() RelayStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close closes both sockets. Further acquisitions fail with
// interfaces.ErrCoreShutdown.
func (r *RelayCore) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.stop()
	var errs []error
	if r.forward != nil {
		if err := r.forward.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.feed != nil {
		if err := r.feed.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeQuietly(c interface{ Close() error }) {
	if c == nil {
		return
	}
	_ = c.Close()
}
