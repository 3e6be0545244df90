package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"detectionserver/internal/model"
)

// ErrQueueClosed is returned by Push and Pop once the queue has been closed.
var ErrQueueClosed = errors.New("pipeline queue closed")

// Queue is the FIFO handoff between the capture goroutine and the consumer.
//
// Push never blocks. With capacity 0 the queue is unbounded; with a positive
// capacity the oldest pending batch is discarded to make room.
type Queue struct {
	mu       sync.Mutex
	items    []model.DetectionBatch
	capacity int
	closed   bool

	// ready holds at most one token, set whenever items become available.
	ready chan struct{}
	done  chan struct{}

	dropped atomic.Uint64
}

// NewQueue creates a queue. capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push appends a batch. Empty batches are ignored.
func (q *Queue) Push(batch model.DetectionBatch) error {
	if len(batch) == 0 {
		return nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.items[0] = nil
		q.items = q.items[1:]
		q.dropped.Add(1)
	}
	q.items = append(q.items, batch)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Pop removes the oldest batch, blocking until one is available, ctx is
// done or the queue is closed.
func (q *Queue) Pop(ctx context.Context) (model.DetectionBatch, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if len(q.items) > 0 {
			batch := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return batch, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops the queue. Pending batches are discarded. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

// Len returns the number of pending batches.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many batches were discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
