// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/absmach/tagfeed/transport"
)

// ErrClosed is returned by Pop once the queue is closed and drained.
var ErrClosed = errors.New("session closed")

// DeliveryQueue is a bounded multi-producer single-consumer FIFO handing
// inbound messages from the transport's I/O goroutine to the consumer.
// Push never blocks: on overflow the oldest unconsumed message is dropped
// and the drop counter incremented, preferring freshness over completeness
// for a live feed. Ordering is a single global FIFO across all topics.
type DeliveryQueue struct {
	mu     sync.Mutex
	buf    []transport.Message
	head   int
	count  int
	closed bool

	dropped atomic.Uint64

	notify   chan struct{}
	closedCh chan struct{}

	// onDrop, if set, is called after each overflow drop with the running
	// drop total. Runs on the producer goroutine; must not block.
	onDrop func(total uint64)
}

// NewDeliveryQueue creates a delivery queue with the given capacity.
func NewDeliveryQueue(capacity int, onDrop func(total uint64)) *DeliveryQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &DeliveryQueue{
		buf:      make([]transport.Message, capacity),
		notify:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
		onDrop:   onDrop,
	}
}

// Push appends a message, dropping the oldest one if the queue is full.
// It reports whether a message was dropped. Safe to call from any
// goroutine; never blocks beyond the internal critical section.
func (q *DeliveryQueue) Push(msg transport.Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	var droppedTotal uint64
	dropped := false
	if q.count == len(q.buf) {
		// Overwrite the oldest slot.
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		dropped = true
		droppedTotal = q.dropped.Add(1)
	}

	q.buf[(q.head+q.count)%len(q.buf)] = msg
	q.count++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	if dropped && q.onDrop != nil {
		q.onDrop(droppedTotal)
	}
	return dropped
}

// Pop blocks until a message is available, the context is cancelled, or the
// queue is closed. Messages already queued at close time are still drained
// before ErrClosed is returned.
func (q *DeliveryQueue) Pop(ctx context.Context) (transport.Message, error) {
	for {
		q.mu.Lock()
		if q.count > 0 {
			msg := q.buf[q.head]
			q.buf[q.head] = transport.Message{}
			q.head = (q.head + 1) % len(q.buf)
			q.count--
			q.mu.Unlock()
			return msg, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return transport.Message{}, ErrClosed
		}

		select {
		case <-q.notify:
		case <-q.closedCh:
		case <-ctx.Done():
			return transport.Message{}, ctx.Err()
		}
	}
}

// Close marks the queue closed and wakes any blocked Pop caller.
func (q *DeliveryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.closedCh)
}

// Len returns the number of queued messages.
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped returns the total number of messages dropped on overflow.
func (q *DeliveryQueue) Dropped() uint64 {
	return q.dropped.Load()
}
