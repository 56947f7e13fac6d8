// Package queue implements the bounded, ordered, point-to-point conduit that
// connects two pipeline stages.
//
// A send attempt never blocks: it is accepted, rejected as full, or rejected
// with a hard error. Blocking and retrying is the producer's job.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/andresmejia3/segflow/internal/types"
)

var (
	// ErrFull means the queue is at capacity; the send may be retried.
	ErrFull = errors.New("queue full")
	// ErrClosed means the consumer side is gone; the send must not be retried.
	ErrClosed = errors.New("queue closed")
)

// Sink is the producer side of a queue.
type Sink interface {
	TrySend(env *types.Envelope) error
}

// Source is the consumer side of a queue.
type Source interface {
	Receive(ctx context.Context) (*types.Envelope, error)
}

// Queue is a FIFO with a fixed capacity, backed by a buffered channel.
type Queue struct {
	name   string
	mu     sync.Mutex
	ch     chan *types.Envelope
	closed bool
}

// New creates a queue holding at most capacity envelopes. Capacity below 1 is
// raised to 1.
func New(name string, capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{name: name, ch: make(chan *types.Envelope, capacity)}
}

func (q *Queue) Name() string { return q.name }

// Cap is the fixed capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Len is the number of envelopes currently buffered.
func (q *Queue) Len() int { return len(q.ch) }

// TrySend enqueues env without blocking.
func (q *Queue) TrySend(env *types.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- env:
		return nil
	default:
		return ErrFull
	}
}

// Receive blocks until an envelope is available, the queue is closed and
// drained, or ctx is done.
func (q *Queue) Receive(ctx context.Context) (*types.Envelope, error) {
	select {
	case env, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close rejects further sends. Buffered envelopes can still be received.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
