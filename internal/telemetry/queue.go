package telemetry

import "sync"

// Queue is the bounded hand-off buffer between the sampler and the control
// loop. It preserves FIFO order; when full, the oldest unconsumed sample is
// dropped so the sampler never blocks.
type Queue struct {
	mu    sync.Mutex
	buf   []Sample
	cap   int
	drops uint64
	ready chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		buf:   make([]Sample, 0, capacity),
		cap:   capacity,
		ready: make(chan struct{}, 1),
	}
}

// Push appends a sample, evicting the oldest one when the queue is full.
// It reports whether an eviction happened.
func (q *Queue) Push(s Sample) bool {
	q.mu.Lock()
	dropped := false
	if len(q.buf) >= q.cap {
		copy(q.buf, q.buf[1:])
		q.buf = q.buf[:len(q.buf)-1]
		q.drops++
		dropped = true
	}
	q.buf = append(q.buf, s)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// Ready signals that at least one sample is waiting. The token is coalesced,
// so consumers must Drain after each receive.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes and returns all buffered samples in capture order.
func (q *Queue) Drain() []Sample {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil
	}
	out := make([]Sample, len(q.buf))
	copy(out, q.buf)
	q.buf = q.buf[:0]
	return out
}

// Drops returns the backpressure counter.
func (q *Queue) Drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}

// Len returns the number of buffered samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
