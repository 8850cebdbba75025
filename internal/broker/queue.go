package broker

import (
	"context"
	"sync"
)

type envelope struct {
	msg     Message
	attempt int
}

type queue struct {
	name string

	mu    sync.Mutex
	items []envelope

	ready      chan struct{}
	deleted    chan struct{}
	deleteOnce sync.Once
}

func newQueue(name string) *queue {
	return &queue{
		name:    name,
		ready:   make(chan struct{}, 1),
		deleted: make(chan struct{}),
	}
}

func (q *queue) push(env envelope) {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()
	q.signal()
}

// pushFront puts a requeued message back at the head so it keeps its place.
func (q *queue) pushFront(env envelope) {
	q.mu.Lock()
	q.items = append([]envelope{env}, q.items...)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) pop(ctx context.Context, closed <-chan struct{}) (envelope, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items[0] = envelope{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			if more {
				q.signal()
			}
			return env, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return envelope{}, false
		case <-q.deleted:
			return envelope{}, false
		case <-closed:
			return envelope{}, false
		}
	}
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) markDeleted() {
	q.deleteOnce.Do(func() { close(q.deleted) })
}
