package queue

import (
	"errors"
	"sync"

	"github.com/hb9tf/iqdump/iq"
)

// ErrClosed is returned by Push once the shutdown message was queued.
var ErrClosed = errors.New("queue: push after shutdown")

// Message is either a batch of records or the shutdown marker.
type Message struct {
	Batch    *iq.Batch
	Shutdown bool
}

// Queue is a FIFO handoff of batches between a single producer and a single consumer.
// With a capacity of 0 it is unbounded and Push never blocks.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []Message
	capacity int
	closed   bool

	// OnLen is called with the queue length after every change. It must not block.
	OnLen func(n int)
}

func New(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push appends a batch. It only blocks when the queue has a capacity and is full.
func (q *Queue) Push(b *iq.Batch) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.capacity > 0 && q.batches() >= q.capacity {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, Message{Batch: b})
	q.changed()
	q.notEmpty.Signal()
	return nil
}

// Shutdown queues the shutdown message behind everything pushed so far.
// Calling it more than once has no effect.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = append(q.items, Message{Shutdown: true})
	q.changed()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Pop blocks until a message is available. After the shutdown message was
// returned, every further call returns it again immediately.
func (q *Queue) Pop() Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.notEmpty.Wait()
	}
	m := q.items[0]
	if m.Shutdown {
		return m
	}
	q.items[0] = Message{}
	q.items = q.items[1:]
	q.changed()
	q.notFull.Signal()
	return m
}

// Len returns the number of batches waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.batches()
}

func (q *Queue) batches() int {
	if q.closed {
		return len(q.items) - 1
	}
	return len(q.items)
}

func (q *Queue) changed() {
	if q.OnLen != nil {
		q.OnLen(q.batches())
	}
}
