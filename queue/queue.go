// Package queue implements the bounded timed queue holding items until their
// propagation delay has elapsed.
//
// Items are kept in a min-heap keyed by release time so a scan touches only
// the items that are ready. Every admitted item leaves the queue exactly once,
// either through ScanReady followed by Release, or through DrainAll.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/delaycla/delay"
	"github.com/opd-ai/delaycla/interfaces"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull indicates the queue is at capacity.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed indicates the queue has been drained and accepts no items.
	ErrQueueClosed = errors.New("queue closed")
	// ErrInvalidCapacity indicates a non-positive capacity.
	ErrInvalidCapacity = errors.New("queue capacity must be positive")
	// ErrNilItem indicates a nil item was passed to Admit.
	ErrNilItem = errors.New("nil item")
)

// Stats is a snapshot of queue occupancy and counters.
type Stats struct {
	Capacity   int
	Pending    int
	Dispatched int
	// Uncompacted counts released items whose slots have not been reclaimed.
	Uncompacted int
	Admitted    uint64
	Rejected    uint64
	Released    uint64
	Drained     uint64
	Closed      bool
}

// TimedQueue is a bounded, release-time ordered queue. It is safe for
// concurrent use.
type TimedQueue struct {
	mu       sync.Mutex
	capacity int
	model    delay.Model
	clock    interfaces.TimeProvider

	pending    itemHeap
	dispatched map[*Item]struct{}
	released   []*Item
	seq        uint64
	closed     bool

	// space is closed and replaced whenever a slot may have become free.
	space chan struct{}

	admitted     uint64
	rejected     uint64
	releaseCount uint64
	drained      uint64
}

// New creates a queue holding at most capacity items whose release times are
// computed by model. A nil clock uses the system clock.
func New(capacity int, model delay.Model, clock interfaces.TimeProvider) (*TimedQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if model == nil {
		model = delay.Preset(0)
	}
	q := &TimedQueue{
		capacity:   capacity,
		model:      model,
		clock:      interfaces.TimeProviderOrDefault(clock),
		pending:    make(itemHeap, 0, capacity),
		dispatched: make(map[*Item]struct{}),
		space:      make(chan struct{}),
	}
	heap.Init(&q.pending)
	return q, nil
}

// Admit stamps item with its arrival and release times and inserts it. It
// never blocks. On error the queue keeps no reference to the item.
func (q *TimedQueue) Admit(item *Item) error {
	_, err := q.admit(item)
	return err
}

// AdmitWait is like Admit but waits up to maxWait for space when the queue is
// full. It returns early when ctx is done or the queue is closed.
func (q *TimedQueue) AdmitWait(ctx context.Context, item *Item, maxWait time.Duration) error {
	space, err := q.admit(item)
	if !errors.Is(err, ErrQueueFull) || maxWait <= 0 {
		return err
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return err
		case <-space:
		}

		space, err = q.admit(item)
		if !errors.Is(err, ErrQueueFull) {
			return err
		}
	}
}

// admit returns the current space channel alongside ErrQueueFull so a waiter
// cannot miss a wakeup.
func (q *TimedQueue) admit(item *Item) (<-chan struct{}, error) {
	if item == nil {
		return nil, ErrNilItem
	}

	now := q.clock.Now()
	d := q.model.Delay(now)
	if d < 0 {
		d = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if q.usedLocked() >= q.capacity {
		q.compactLocked()
		if q.usedLocked() >= q.capacity {
			q.rejected++
			return q.space, ErrQueueFull
		}
	}

	item.ArrivalTime = now
	item.Delay = d
	item.ReleaseTime = now.Add(d)
	item.setState(Pending)
	q.seq++
	item.seq = q.seq
	heap.Push(&q.pending, item)
	q.admitted++

	return nil, nil
}

// ScanReady marks every pending item with ReleaseTime <= now as dispatched
// and returns them ordered by release time, then admission order.
func (q *TimedQueue) ScanReady(now time.Time) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*Item
	for q.pending.Len() > 0 {
		next := q.pending[0]
		if next.ReleaseTime.After(now) {
			break
		}
		it := heap.Pop(&q.pending).(*Item)
		it.setState(Dispatched)
		q.dispatched[it] = struct{}{}
		ready = append(ready, it)
	}
	return ready
}

// Release marks a dispatched item as delivered or dropped. The queue drops its
// payload reference; the slot is reclaimed by the next Compact. It reports
// false if the item was not dispatched by this queue.
func (q *TimedQueue) Release(item *Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.dispatched[item]; !ok {
		return false
	}
	delete(q.dispatched, item)
	item.setState(Released)
	item.Payload = nil
	q.released = append(q.released, item)
	q.releaseCount++
	q.signalLocked()
	return true
}

// Compact reclaims the slots of released items and returns how many were
// reclaimed.
func (q *TimedQueue) Compact() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.compactLocked()
}

// DrainAll closes the queue and returns every pending or dispatched item,
// pending ones first in release order. Each item is returned once; later
// calls return nil.
func (q *TimedQueue) DrainAll() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	wasClosed := q.closed
	q.closed = true
	if !wasClosed {
		q.signalLocked()
	}

	out := make([]*Item, 0, q.pending.Len()+len(q.dispatched))
	for q.pending.Len() > 0 {
		out = append(out, heap.Pop(&q.pending).(*Item))
	}

	inflight := make([]*Item, 0, len(q.dispatched))
	for it := range q.dispatched {
		inflight = append(inflight, it)
	}
	sort.Slice(inflight, func(i, j int) bool { return inflight[i].seq < inflight[j].seq })
	out = append(out, inflight...)
	q.dispatched = make(map[*Item]struct{})
	q.released = nil

	for _, it := range out {
		it.setState(Released)
	}
	q.drained += uint64(len(out))

	if len(out) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "DrainAll",
			"drained":  len(out),
		}).Debug("Drained timed queue")
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Len returns the number of pending and dispatched items.
func (q *TimedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len() + len(q.dispatched)
}

// Capacity returns the configured capacity.
func (q *TimedQueue) Capacity() int {
	return q.capacity
}

// Closed reports whether DrainAll has been called.
func (q *TimedQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// NextRelease returns the earliest pending release time.
func (q *TimedQueue) NextRelease() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.Len() == 0 {
		return time.Time{}, false
	}
	return q.pending[0].ReleaseTime, true
}

// Stats returns a snapshot of occupancy and counters.
func (q *TimedQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Capacity:    q.capacity,
		Pending:     q.pending.Len(),
		Dispatched:  len(q.dispatched),
		Uncompacted: len(q.released),
		Admitted:    q.admitted,
		Rejected:    q.rejected,
		Released:    q.releaseCount,
		Drained:     q.drained,
		Closed:      q.closed,
	}
}

func (q *TimedQueue) usedLocked() int {
	return q.pending.Len() + len(q.dispatched) + len(q.released)
}

func (q *TimedQueue) compactLocked() int {
	n := len(q.released)
	if n == 0 {
		return 0
	}
	for i := range q.released {
		q.released[i] = nil
	}
	q.released = q.released[:0]
	q.signalLocked()
	return n
}

func (q *TimedQueue) signalLocked() {
	close(q.space)
	q.space = make(chan struct{})
}
