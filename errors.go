package delaycla

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrAlreadyRunning is returned by Run when the engine is running or has run.
	ErrAlreadyRunning = errors.New("engine already started")

	// ErrNilConfig indicates the engine was built without a configuration.
	ErrNilConfig = errors.New("config cannot be nil")

	// ErrNilLink indicates the engine was built without its socket.
	ErrNilLink = errors.New("engine requires a link")

	// ErrNilCore indicates the engine was built without a bundle core.
	ErrNilCore = errors.New("engine requires a bundle core")
)

// OpError records the operation and peer of a failed duct step.
type OpError struct {
	Op   string // operation that failed: receive, admit, acquire, dequeue, pace, send
	Peer string // remote address if known
	Err  error  // underlying error
}

func (e *OpError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("delaycla %s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("delaycla %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Operation returns Op. The scheduler uses it to label log entries.
func (e *OpError) Operation() string {
	return e.Op
}

// newOpError creates a new OpError
func newOpError(op string, peer net.Addr, err error) *OpError {
	e := &OpError{Op: op, Err: err}
	if peer != nil {
		e.Peer = peer.String()
	}
	return e
}
