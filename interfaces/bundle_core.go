package interfaces

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrCoreShutdown is returned by a bundle core that is shutting down while a
// call is pending. Callers treat it as benign early termination.
var ErrCoreShutdown = errors.New("bundle core shutting down")

// Acquirer feeds a received bundle into the protocol core. Calls must be made
// in order: Begin, one or more Continue, then End. If any step after Begin
// fails the caller invokes Cancel and makes no further calls for that bundle.
type Acquirer interface {
	// BeginAcquisition opens a new acquisition.
	BeginAcquisition() error

	// ContinueAcquisition appends bytes to the open acquisition.
	ContinueAcquisition(data []byte) error

	// EndAcquisition completes the acquisition and hands the bundle to the core.
	EndAcquisition() error

	// CancelAcquisition abandons the open acquisition.
	CancelAcquisition() error
}

// DequeueStatus classifies the result of a Dequeue call.
type DequeueStatus uint8

const (
	// DequeueBundle means a bundle was returned.
	DequeueBundle DequeueStatus = iota
	// DequeueEmpty means the timeout elapsed with nothing ready. Not an error.
	DequeueEmpty
	// DequeueCorrupt means the core produced a corrupt bundle; skip it.
	DequeueCorrupt
	// DequeueClosed means the outduct was closed by the core.
	DequeueClosed
)

// String returns a human readable status name.
func (s DequeueStatus) String() string {
	switch s {
	case DequeueBundle:
		return "bundle"
	case DequeueEmpty:
		return "empty"
	case DequeueCorrupt:
		return "corrupt"
	case DequeueClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outbound is a bundle handed to the outduct for transmission.
type Outbound struct {
	Status  DequeueStatus
	Payload []byte
}

// Dequeuer yields bundles the core wants transmitted.
type Dequeuer interface {
	// Dequeue blocks for at most timeout waiting for the next bundle.
	Dequeue(ctx context.Context, timeout time.Duration) (Outbound, error)
}

// NeighborLookup reports link metadata of the neighbor behind the outduct.
type NeighborLookup interface {
	// TransmitRate returns the link rate in bytes per second. ok is false
	// when no rate is known, in which case pacing is skipped.
	TransmitRate() (bytesPerSecond float64, ok bool)
}

// BundleCore is the complete view of the protocol core used by the engine.
type BundleCore interface {
	Acquirer
	Dequeuer
	NeighborLookup

	// Close releases resources held by the core.
	Close() error
}

// PacketReceiver reads raw datagrams from the network boundary.
type PacketReceiver interface {
	// ReadPacket reads one datagram into buf, waiting at most timeout.
	ReadPacket(buf []byte, timeout time.Duration) (n int, from net.Addr, err error)

	// LocalAddr returns the bound address.
	LocalAddr() net.Addr

	// Close shuts the receiver down.
	Close() error
}

// PacketSender writes raw datagrams to a fixed peer.
type PacketSender interface {
	// SendPacket writes data to the peer and returns the bytes written.
	SendPacket(data []byte) (int, error)

	// PeerAddr returns the fixed peer address.
	PeerAddr() net.Addr

	// Close shuts the sender down.
	Close() error
}
