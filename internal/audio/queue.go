package audio

import "sync"

// Queue is a bounded FIFO of PCM samples shared between an audio device
// callback and the session. Push never blocks: when the queue is full the
// oldest samples are discarded and counted as dropped.
type Queue struct {
	mu       sync.Mutex
	samples  []float32
	capacity int
	dropped  uint64
}

// NewQueue creates a queue holding at most capacity samples.
// A capacity of zero or less means unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// Push appends a copy of pcm to the queue.
func (q *Queue) Push(pcm []float32) {
	if len(pcm) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.samples = append(q.samples, pcm...)
	if q.capacity > 0 && len(q.samples) > q.capacity {
		over := len(q.samples) - q.capacity
		q.dropped += uint64(over)
		q.samples = append(q.samples[:0], q.samples[over:]...)
	}
}

// DrainAll removes and returns everything currently queued.
func (q *Queue) DrainAll() []float32 {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.samples
	q.samples = nil
	return out
}

// Read moves up to len(dst) samples into dst and returns how many were copied.
// It is meant for playback callbacks that must fill a fixed buffer.
func (q *Queue) Read(dst []float32) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := copy(dst, q.samples)
	q.samples = append(q.samples[:0], q.samples[n:]...)
	return n
}

// Len returns the number of queued samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.samples)
}

// Dropped returns how many samples were discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
