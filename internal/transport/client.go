package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"grantfed/internal/broker"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a broker.Channel backed by a remote broker server.
type Client struct {
	conn *grpc.ClientConn
}

var _ broker.Channel = (*Client)(nil)

func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) DeclareQueue(ctx context.Context, name string) (string, error) {
	var resp DeclareResponse
	if err := c.invoke(ctx, "Declare", &DeclareRequest{Queue: name}, &resp); err != nil {
		return "", err
	}
	return resp.Queue, nil
}

func (c *Client) DeleteQueue(ctx context.Context, name string) error {
	return c.invoke(ctx, "Delete", &DeleteRequest{Queue: name}, &Empty{})
}

func (c *Client) Publish(ctx context.Context, queue string, msg broker.Message) error {
	return c.invoke(ctx, "Publish", &PublishRequest{Queue: queue, Message: msg}, &Empty{})
}

func (c *Client) Ack(ctx context.Context, tag uint64) error {
	return c.invoke(ctx, "Settle", &SettleRequest{Tag: tag}, &Empty{})
}

func (c *Client) Nack(ctx context.Context, tag uint64, requeue bool) error {
	return c.invoke(ctx, "Settle", &SettleRequest{Tag: tag, Nack: true, Requeue: requeue}, &Empty{})
}

// Consume opens a server stream. The returned channel closes when ctx is
// done, the queue is deleted or the connection breaks.
func (c *Client) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	stream, err := c.conn.NewStream(ctx, &consumeStreamDesc, "/"+serviceName+"/Consume")
	if err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.SendMsg(&ConsumeRequest{Queue: queue}); err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}

	// The server sends headers once the consumer is attached, so an unknown
	// queue comes back here instead of as an immediately closed channel.
	md, err := stream.Header()
	if err != nil {
		return nil, fromStatus(err)
	}
	if md == nil {
		if err := stream.RecvMsg(new(broker.Delivery)); err != nil && !errors.Is(err, io.EOF) {
			return nil, fromStatus(err)
		}
	}

	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		for {
			var d broker.Delivery
			if err := stream.RecvMsg(&d); err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					slog.Warn("consumer stream ended", "queue", queue, "error", err)
				}
				return
			}

			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp); err != nil {
		return fromStatus(err)
	}
	return nil
}
