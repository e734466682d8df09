package queue

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a queued item.
type State uint32

const (
	// Pending items wait for their release time.
	Pending State = iota
	// Dispatched items have been handed to the scheduler for delivery.
	Dispatched
	// Released items were delivered, dropped or drained.
	Released
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Dispatched:
		return "dispatched"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Item is one datagram or bundle in transit through the delay queue.
//
// The payload is owned by the item while it is queued. The consumer that
// receives the item from ScanReady or DrainAll takes ownership with
// TakePayload.
type Item struct {
	// ID identifies the item in log entries.
	ID uuid.UUID

	// Payload is the opaque data carried by the item.
	Payload []byte

	// Origin is the sender address; nil for egress items.
	Origin net.Addr

	// ArrivalTime is set at admission.
	ArrivalTime time.Time

	// ReleaseTime is ArrivalTime plus Delay, computed once at admission.
	ReleaseTime time.Time

	// Delay is the propagation delay the model assigned at admission.
	Delay time.Duration

	state atomic.Uint32
	seq   uint64
	index int
}

// NewItem wraps payload in a fresh pending item with a random ID.
func NewItem(payload []byte, origin net.Addr) *Item {
	return &Item{
		ID:      uuid.New(),
		Payload: payload,
		Origin:  origin,
		index:   -1,
	}
}

// State returns the current lifecycle state.
func (it *Item) State() State {
	return State(it.state.Load())
}

// TakePayload moves the payload out of the item. Subsequent calls return nil.
func (it *Item) TakePayload() []byte {
	p := it.Payload
	it.Payload = nil
	return p
}

func (it *Item) setState(s State) {
	it.state.Store(uint32(s))
}

// itemHeap is a min-heap of pending items ordered by (ReleaseTime, seq).
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if !h[i].ReleaseTime.Equal(h[j].ReleaseTime) {
		return h[i].ReleaseTime.Before(h[j].ReleaseTime)
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
