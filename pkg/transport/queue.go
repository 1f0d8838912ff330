package transport

import (
	"context"
	"sync"
)

// queue is an unbounded multi-producer multi-consumer FIFO. The producer and
// consumer sides are closed independently: closing the producer side lets
// consumers drain what is left, closing the consumer side fails producers
// immediately.
type queue struct {
	mu         sync.Mutex
	items      []any
	ready      chan struct{} // closed and replaced whenever state changes
	sendClosed bool
	recvClosed bool
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{})}
}

// wake must be called with mu held.
func (q *queue) wake() {
	close(q.ready)
	q.ready = make(chan struct{})
}

func (q *queue) push(v any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendClosed || q.recvClosed {
		return ErrChannelClosed
	}
	q.items = append(q.items, v)
	q.wake()
	return nil
}

func (q *queue) pop(ctx context.Context) (any, error) {
	for {
		q.mu.Lock()
		if q.recvClosed {
			q.mu.Unlock()
			return nil, ErrChannelClosed
		}
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		if q.sendClosed {
			q.mu.Unlock()
			return nil, ErrChannelClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ready:
		}
	}
}

func (q *queue) closeSend() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.sendClosed {
		q.sendClosed = true
		q.wake()
	}
}

// closeRecv drops everything still queued and returns it so the caller can
// release resources held by the items.
func (q *queue) closeRecv() []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.recvClosed {
		return nil
	}
	q.recvClosed = true
	left := q.items
	q.items = nil
	q.wake()
	return left
}

func (q *queue) receiving() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.recvClosed
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
