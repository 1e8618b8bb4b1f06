package chat

import (
	"context"
	"sync"
)

// MessageQueue is a bounded FIFO of pending messages for one session.
// Producers never block: a full queue rejects immediately so the connection
// read loop can report overload to the client. Close half-closes the queue,
// failing further enqueues and releasing any blocked consumer.
type MessageQueue struct {
	ch        chan PendingMessage
	done      chan struct{}
	closeOnce sync.Once
}

// NewMessageQueue creates a queue holding at most capacity messages.
func NewMessageQueue(capacity int) *MessageQueue {
	return &MessageQueue{
		ch:   make(chan PendingMessage, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue adds a message, failing fast with ErrQueueFull when at capacity or
// ErrQueueClosed after Close.
func (q *MessageQueue) Enqueue(msg PendingMessage) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return ErrQueueClosed
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a message is available, the queue is closed, or the
// context is cancelled.
func (q *MessageQueue) Dequeue(ctx context.Context) (PendingMessage, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.done:
		return PendingMessage{}, ErrQueueClosed
	case <-ctx.Done():
		return PendingMessage{}, ctx.Err()
	}
}

// Close half-closes the queue. Idempotent. Messages still buffered are
// discarded; a consumer blocked in Dequeue is released with ErrQueueClosed.
func (q *MessageQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Len reports the number of buffered messages.
func (q *MessageQueue) Len() int {
	return len(q.ch)
}
