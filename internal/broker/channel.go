// Package broker is a small in-memory message broker with the delivery
// guarantees the services rely on: named queues, server-named private
// queues, one unacknowledged delivery per consumer and at-least-once
// redelivery of anything not acknowledged.
package broker

import "context"

type Message struct {
	CorrelationID string `json:"correlationId,omitempty"`
	ReplyTo       string `json:"replyTo,omitempty"`
	Body          []byte `json:"body"`
}

// Delivery is a message handed to a consumer. Attempt starts at 1 and grows
// each time the message is requeued.
type Delivery struct {
	Message
	Tag     uint64 `json:"tag"`
	Queue   string `json:"queue"`
	Attempt int    `json:"attempt"`
}

func (d Delivery) Redelivered() bool {
	return d.Attempt > 1
}

// Channel is the client view of a broker. *Broker implements it in
// process; transport.Client implements it over gRPC.
type Channel interface {
	// DeclareQueue creates the queue if needed and returns its name. An
	// empty name asks the broker for a fresh private queue.
	DeclareQueue(ctx context.Context, name string) (string, error)
	DeleteQueue(ctx context.Context, name string) error
	Publish(ctx context.Context, queue string, msg Message) error
	// Consume streams deliveries until ctx is done or the queue is
	// deleted. The next delivery is only sent after the previous one has
	// been acked or nacked.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
	Ack(ctx context.Context, tag uint64) error
	Nack(ctx context.Context, tag uint64, requeue bool) error
}
