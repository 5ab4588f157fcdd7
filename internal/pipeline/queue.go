package pipeline

import (
	"sync"

	"github.com/ayusman/mudra/internal/capture"
)

// DefaultQueueDepth is the number of frames a session buffers.
const DefaultQueueDepth = 3

// Queue is a bounded frame buffer. When full, the oldest frame is closed
// and replaced so the newest frame always wins.
type Queue struct {
	mu     sync.Mutex
	frames []*capture.Frame
	depth  int
	ready  chan struct{}
	closed bool
}

// NewQueue creates a queue holding at most depth frames.
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Queue{
		frames: make([]*capture.Frame, 0, depth),
		depth:  depth,
		ready:  make(chan struct{}, 1),
	}
}

// Push enqueues f without blocking and returns how many frames were
// dropped to make room. A closed queue drops f itself.
func (q *Queue) Push(f *capture.Frame) int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.Close()
		return 1
	}

	dropped := 0
	for len(q.frames) >= q.depth {
		q.frames[0].Close()
		q.frames[0] = nil
		q.frames = q.frames[1:]
		dropped++
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// Pop removes the oldest buffered frame.
func (q *Queue) Pop() (*capture.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return f, true
}

// Ready is signalled after a push.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Close drops every buffered frame and refuses later pushes.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for i, f := range q.frames {
		f.Close()
		q.frames[i] = nil
	}
	q.frames = q.frames[:0]
}
