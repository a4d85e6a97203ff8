package audio

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by [Queue.Push] after [Queue.Close].
var ErrQueueClosed = errors.New("audio: queue closed")

// Queue is a bounded frame channel with drop-oldest overflow. A real-time
// producer (the network reader) pushes without ever blocking; when the
// channel is full the oldest undelivered frame is evicted to make room.
//
// Push and Close may be called from any goroutine. The receive side returned
// by [Queue.C] is meant for a single consumer, typically an [Sink].
type Queue struct {
	mu      sync.Mutex
	ch      chan AudioFrame
	closed  bool
	evicted atomic.Uint64
}

// NewQueue returns a Queue holding at most capacity frames. A capacity below
// one is raised to one.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan AudioFrame, capacity)}
}

// C returns the receive side of the queue. It is closed by [Queue.Close].
func (q *Queue) C() <-chan AudioFrame { return q.ch }

// Push enqueues f. If the queue is full the oldest queued frame is discarded
// and evicted reports true. Push never blocks.
func (q *Queue) Push(f AudioFrame) (evicted bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrQueueClosed
	}
	for {
		select {
		case q.ch <- f:
			return evicted, nil
		default:
		}
		// Full. Only this goroutine can add (we hold mu), so after one
		// eviction the next send succeeds. The consumer may race us and take
		// the frame first, in which case nothing is evicted.
		select {
		case <-q.ch:
			evicted = true
			q.evicted.Add(1)
		default:
		}
	}
}

// Len returns the number of frames currently queued.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Evicted returns the total number of frames discarded by drop-oldest.
func (q *Queue) Evicted() uint64 { return q.evicted.Load() }

// Close discards any undelivered frames and closes the channel so the
// consumer's range loop terminates. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for {
		select {
		case <-q.ch:
			continue
		default:
		}
		break
	}
	close(q.ch)
}
