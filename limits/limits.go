package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagramPayload is the largest UDP payload carried over IPv4
	// (65535 minus the 8 byte UDP header and the 20 byte IP header).
	MaxDatagramPayload = 65507

	// ReceiveBufferSize is the buffer size used for a single datagram read.
	ReceiveBufferSize = MaxDatagramPayload + 1

	// StopSentinelSize is the length of the datagram that stops an induct.
	StopSentinelSize = 1
)

var (
	// ErrBundleEmpty indicates an empty bundle was provided
	ErrBundleEmpty = errors.New("empty bundle")

	// ErrBundleTooLarge indicates a bundle does not fit in one datagram
	ErrBundleTooLarge = errors.New("bundle too large for one datagram")
)

// StopSentinel returns a fresh stop datagram.
func StopSentinel() []byte {
	return make([]byte, StopSentinelSize)
}

// IsStopSentinel reports whether a received datagram of n bytes is the stop
// signal.
func IsStopSentinel(n int) bool {
	return n == StopSentinelSize
}

// ValidateSize checks a payload against maxSize.
func ValidateSize(payload []byte, maxSize int) error {
	if len(payload) == 0 {
		return ErrBundleEmpty
	}
	if len(payload) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrBundleTooLarge, len(payload), maxSize)
	}
	return nil
}

// ValidateBundle checks that payload can be sent as a single datagram.
func ValidateBundle(payload []byte) error {
	return ValidateSize(payload, MaxDatagramPayload)
}
