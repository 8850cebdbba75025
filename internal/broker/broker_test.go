package broker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func expectNothing(t *testing.T, ch <-chan Delivery) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func newQueueBroker(t *testing.T, name string) (*Broker, context.Context) {
	t.Helper()
	b := New()
	t.Cleanup(b.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, err := b.DeclareQueue(ctx, name)
	require.NoError(t, err)
	return b, ctx
}

func TestBroker_PublishConsumeAck(t *testing.T) {
	b, ctx := newQueueBroker(t, "work")

	require.NoError(t, b.Publish(ctx, "work", Message{CorrelationID: "c1", ReplyTo: "r", Body: []byte("hello")}))

	deliveries, err := b.Consume(ctx, "work")
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, "c1", d.CorrelationID)
	assert.Equal(t, "r", d.ReplyTo)
	assert.Equal(t, []byte("hello"), d.Body)
	assert.Equal(t, "work", d.Queue)
	assert.Equal(t, 1, d.Attempt)
	assert.False(t, d.Redelivered())

	require.NoError(t, b.Ack(ctx, d.Tag))
	assert.Equal(t, 0, b.Depth("work"))
}

func TestBroker_PublishUnknownQueue(t *testing.T) {
	b := New()
	defer b.Close()

	err := b.Publish(context.Background(), "missing", Message{})
	require.ErrorIs(t, err, ErrQueueNotFound)

	_, err = b.Consume(context.Background(), "missing")
	require.ErrorIs(t, err, ErrQueueNotFound)
}

func TestBroker_DeclareIsIdempotentAndPrivateNamesAreUnique(t *testing.T) {
	b, ctx := newQueueBroker(t, "work")

	require.NoError(t, b.Publish(ctx, "work", Message{Body: []byte("kept")}))
	name, err := b.DeclareQueue(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "work", name)
	assert.Equal(t, 1, b.Depth("work"))

	a, err := b.DeclareQueue(ctx, "")
	require.NoError(t, err)
	c, err := b.DeclareQueue(ctx, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a, privateQueuePrefix))
	assert.NotEqual(t, a, c)
}

func TestBroker_PrefetchOne(t *testing.T) {
	b, ctx := newQueueBroker(t, "work")

	for _, body := range []string{"1", "2"} {
		require.NoError(t, b.Publish(ctx, "work", Message{Body: []byte(body)}))
	}

	deliveries, err := b.Consume(ctx, "work")
	require.NoError(t, err)

	first := receive(t, deliveries)
	assert.Equal(t, "1", string(first.Body))
	expectNothing(t, deliveries)

	require.NoError(t, b.Ack(ctx, first.Tag))
	second := receive(t, deliveries)
	assert.Equal(t, "2", string(second.Body))
}

func TestBroker_NackRequeueRedelivers(t *testing.T) {
	b, ctx := newQueueBroker(t, "work")

	require.NoError(t, b.Publish(ctx, "work", Message{CorrelationID: "c1"}))
	require.NoError(t, b.Publish(ctx, "work", Message{CorrelationID: "c2"}))

	deliveries, err := b.Consume(ctx, "work")
	require.NoError(t, err)

	d := receive(t, deliveries)
	require.NoError(t, b.Nack(ctx, d.Tag, true))

	again := receive(t, deliveries)
	assert.Equal(t, "c1", again.CorrelationID)
	assert.Equal(t, 2, again.Attempt)
	assert.True(t, again.Redelivered())
	assert.NotEqual(t, d.Tag, again.Tag)

	require.NoError(t, b.Nack(ctx, again.Tag, false))
	next := receive(t, deliveries)
	assert.Equal(t, "c2", next.CorrelationID)
}

func TestBroker_UnackedMessageReturnsWhenConsumerLeaves(t *testing.T) {
	b, ctx := newQueueBroker(t, "work")
	require.NoError(t, b.Publish(ctx, "work", Message{CorrelationID: "c1"}))

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	deliveries, err := b.Consume(consumerCtx, "work")
	require.NoError(t, err)
	d := receive(t, deliveries)

	cancelConsumer()
	require.Eventually(t, func() bool { return b.Depth("work") == 1 }, time.Second, 5*time.Millisecond)

	err = b.Ack(ctx, d.Tag)
	require.ErrorIs(t, err, ErrUnknownTag)

	other, err := b.Consume(ctx, "work")
	require.NoError(t, err)
	redelivered := receive(t, other)
	assert.Equal(t, "c1", redelivered.CorrelationID)
	assert.Equal(t, 2, redelivered.Attempt)
}

func TestBroker_CompetingConsumersShareQueue(t *testing.T) {
	b, ctx := newQueueBroker(t, "work")

	a, err := b.Consume(ctx, "work")
	require.NoError(t, err)
	c, err := b.Consume(ctx, "work")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "work", Message{CorrelationID: "1"}))
	require.NoError(t, b.Publish(ctx, "work", Message{CorrelationID: "2"}))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case d := <-a:
			seen[d.CorrelationID] = true
		case d := <-c:
			seen[d.CorrelationID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	assert.Equal(t, map[string]bool{"1": true, "2": true}, seen)
}

func TestBroker_DeleteQueueEndsConsumers(t *testing.T) {
	b, ctx := newQueueBroker(t, "work")

	deliveries, err := b.Consume(ctx, "work")
	require.NoError(t, err)

	require.NoError(t, b.DeleteQueue(ctx, "work"))

	select {
	case _, ok := <-deliveries:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer not closed")
	}

	require.ErrorIs(t, b.DeleteQueue(ctx, "work"), ErrQueueNotFound)
	require.ErrorIs(t, b.Publish(ctx, "work", Message{}), ErrQueueNotFound)
}

func TestBroker_ClosedRejectsOperations(t *testing.T) {
	b := New()
	b.Close()

	_, err := b.DeclareQueue(context.Background(), "x")
	require.ErrorIs(t, err, ErrClosed)
}
