package broker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"grantfed/internal/metrics"

	"github.com/google/uuid"
)

const privateQueuePrefix = "amq.gen-"

type inflight struct {
	q       *queue
	env     envelope
	settled chan bool
}

type Broker struct {
	mu      sync.Mutex
	queues  map[string]*queue
	unacked map[uint64]*inflight
	nextTag uint64

	closed    chan struct{}
	closeOnce sync.Once
}

var _ Channel = (*Broker)(nil)

func New() *Broker {
	return &Broker{
		queues:  make(map[string]*queue),
		unacked: make(map[uint64]*inflight),
		closed:  make(chan struct{}),
	}
}

func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
		slog.Info("broker closed")
	})
}

func (b *Broker) DeclareQueue(_ context.Context, name string) (string, error) {
	if b.isClosed() {
		return "", ErrClosed
	}
	if name == "" {
		name = privateQueuePrefix + uuid.NewString()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[name]; !ok {
		b.queues[name] = newQueue(name)
		metrics.BrokerQueuesTotal.Inc()
		slog.Debug("queue declared", "queue", name)
	}
	return name, nil
}

func (b *Broker) DeleteQueue(_ context.Context, name string) error {
	b.mu.Lock()
	q, ok := b.queues[name]
	if ok {
		delete(b.queues, name)
		for tag, fl := range b.unacked {
			if fl.q == q {
				delete(b.unacked, tag)
			}
		}
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}

	q.markDeleted()
	metrics.BrokerQueuesTotal.Dec()
	slog.Debug("queue deleted", "queue", name)
	return nil
}

func (b *Broker) Publish(_ context.Context, name string, msg Message) error {
	if b.isClosed() {
		return ErrClosed
	}
	q, err := b.lookup(name)
	if err != nil {
		return err
	}

	msg.Body = bytes.Clone(msg.Body)
	q.push(envelope{msg: msg, attempt: 1})
	metrics.BrokerPublishedTotal.WithLabelValues(metricQueueLabel(name)).Inc()
	return nil
}

func (b *Broker) Consume(ctx context.Context, name string) (<-chan Delivery, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	q, err := b.lookup(name)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go b.consumeLoop(ctx, q, out)
	return out, nil
}

func (b *Broker) Ack(_ context.Context, tag uint64) error {
	fl, ok := b.take(tag)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	fl.settled <- false
	return nil
}

func (b *Broker) Nack(_ context.Context, tag uint64, requeue bool) error {
	fl, ok := b.take(tag)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	fl.settled <- requeue
	return nil
}

// Depth returns the number of ready messages in a queue.
func (b *Broker) Depth(name string) int {
	q, err := b.lookup(name)
	if err != nil {
		return 0
	}
	return q.len()
}

// consumeLoop hands out one message at a time and waits for it to be
// settled before taking the next, so a consumer never holds more than one
// unacknowledged delivery.
func (b *Broker) consumeLoop(ctx context.Context, q *queue, out chan<- Delivery) {
	defer close(out)

	for {
		env, ok := q.pop(ctx, b.closed)
		if !ok {
			return
		}

		tag, fl := b.track(q, env)
		d := Delivery{
			Message: env.msg,
			Tag:     tag,
			Queue:   q.name,
			Attempt: env.attempt,
		}

		select {
		case out <- d:
		case <-ctx.Done():
			// Never handed out: put it back untouched.
			b.take(tag)
			q.pushFront(env)
			return
		case <-q.deleted:
			return
		case <-b.closed:
			return
		}

		select {
		case requeue := <-fl.settled:
			if requeue {
				b.requeue(fl)
			}
		case <-ctx.Done():
			b.requeueIfUnsettled(tag, fl)
			return
		case <-q.deleted:
			return
		case <-b.closed:
			return
		}
	}
}

func (b *Broker) track(q *queue, env envelope) (uint64, *inflight) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextTag++
	fl := &inflight{q: q, env: env, settled: make(chan bool, 1)}
	b.unacked[b.nextTag] = fl
	return b.nextTag, fl
}

func (b *Broker) take(tag uint64) (*inflight, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fl, ok := b.unacked[tag]
	if ok {
		delete(b.unacked, tag)
	}
	return fl, ok
}

// requeueIfUnsettled returns the message to its queue when the consumer
// went away without acking. A racing Ack or Nack wins if it got there first.
func (b *Broker) requeueIfUnsettled(tag uint64, fl *inflight) {
	if _, ok := b.take(tag); ok {
		b.requeue(fl)
		return
	}

	// The settler took the tag and is about to report its decision.
	if requeue := <-fl.settled; requeue {
		b.requeue(fl)
	}
}

func (b *Broker) requeue(fl *inflight) {
	env := fl.env
	env.attempt++
	fl.q.pushFront(env)
	metrics.BrokerRedeliveriesTotal.WithLabelValues(metricQueueLabel(fl.q.name)).Inc()
	slog.Debug("message requeued", "queue", fl.q.name, "correlationId", env.msg.CorrelationID, "attempt", env.attempt)
}

func (b *Broker) lookup(name string) (*queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return q, nil
}

func (b *Broker) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// metricQueueLabel folds private reply queues into one label value.
func metricQueueLabel(name string) string {
	if strings.HasPrefix(name, privateQueuePrefix) {
		return "private"
	}
	return name
}
