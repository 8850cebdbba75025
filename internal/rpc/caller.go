// Package rpc implements correlation-id request/reply on top of a broker
// channel.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"grantfed/internal/broker"
	"grantfed/internal/message"
	"grantfed/internal/metrics"
	"grantfed/internal/types"

	"github.com/google/uuid"
)

// Clock is the part of the logical clock a caller needs: it stamps
// outgoing requests and moves forward on the dates peers reply with.
type Clock interface {
	Now() types.Date
	ReconcileDate(peer types.Date) bool
}

// Caller issues one request at a time and blocks until the matching reply
// arrives or the timeout expires. Give every logical caller its own
// Caller; concurrent Call on a shared one fails with ErrCallInFlight.
type Caller struct {
	channel broker.Channel
	clock   Clock
	timeout time.Duration
	busy    atomic.Bool
}

func NewCaller(ch broker.Channel, clk Clock, timeout time.Duration) *Caller {
	return &Caller{
		channel: ch,
		clock:   clk,
		timeout: timeout,
	}
}

// Call publishes req to queue and waits for the reply. An empty
// CorrelationID is filled in with a fresh uuid; a preset one is kept so
// retries of the same logical request stay recognisable to the callee.
func (c *Caller) Call(ctx context.Context, queue string, req *message.Request) (*message.Response, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrCallInFlight
	}
	defer c.busy.Store(false)

	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	start := time.Now()
	resp, err := c.call(ctx, queue, req)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	metrics.RPCCallsTotal.WithLabelValues(queue, outcome).Inc()
	metrics.RPCCallDuration.WithLabelValues(queue).Observe(time.Since(start).Seconds())

	return resp, err
}

func (c *Caller) call(ctx context.Context, queue string, req *message.Request) (*message.Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	replyTo, err := c.channel.DeclareQueue(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}
	defer func() {
		if err := c.channel.DeleteQueue(context.WithoutCancel(ctx), replyTo); err != nil {
			slog.Debug("failed to delete reply queue", "queue", replyTo, "error", err)
		}
	}()

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	replies, err := c.channel.Consume(consumeCtx, replyTo)
	if err != nil {
		return nil, fmt.Errorf("consume reply queue: %w", err)
	}

	if _, err := c.channel.DeclareQueue(ctx, queue); err != nil {
		return nil, fmt.Errorf("declare %s: %w", queue, err)
	}

	req.ReplyTo = replyTo
	if c.clock != nil {
		req.Timestamp = c.clock.Now()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	msg := broker.Message{CorrelationID: req.CorrelationID, ReplyTo: replyTo, Body: body}
	if err := c.channel.Publish(ctx, queue, msg); err != nil {
		return nil, fmt.Errorf("publish to %s: %w", queue, err)
	}
	slog.Debug("rpc sent", "queue", queue, "kind", req.Kind, "correlationId", req.CorrelationID)

	for {
		select {
		case d, ok := <-replies:
			if !ok {
				if ctx.Err() != nil {
					return nil, c.deadlineError(ctx, queue)
				}
				return nil, fmt.Errorf("%w: %s", ErrReplyQueueClosed, replyTo)
			}

			if err := c.channel.Ack(ctx, d.Tag); err != nil {
				slog.Warn("failed to ack reply", "queue", replyTo, "error", err)
			}

			if d.CorrelationID != req.CorrelationID {
				metrics.RPCUnmatchedRepliesTotal.Inc()
				slog.Warn("dropping reply with unexpected correlation id",
					"expected", req.CorrelationID,
					"got", d.CorrelationID,
				)
				continue
			}

			resp, err := message.DecodeResponse(d.Body)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
			}
			if c.clock != nil {
				c.clock.ReconcileDate(resp.Timestamp)
			}
			return resp, nil

		case <-ctx.Done():
			return nil, c.deadlineError(ctx, queue)
		}
	}
}

func (c *Caller) deadlineError(ctx context.Context, queue string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no reply from %s within %s", ErrTimeout, queue, c.timeout)
	}
	return ctx.Err()
}
