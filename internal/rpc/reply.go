package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"grantfed/internal/broker"
	"grantfed/internal/message"
)

// Reply publishes resp to the caller's reply queue under the request's
// correlation id.
func Reply(ctx context.Context, ch broker.Channel, replyTo, correlationID string, resp *message.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return ReplyRaw(ctx, ch, replyTo, correlationID, body)
}

// ReplyRaw publishes an already encoded response. Replayed results go
// through here so duplicates get the exact bytes of the first answer.
func ReplyRaw(ctx context.Context, ch broker.Channel, replyTo, correlationID string, body []byte) error {
	if replyTo == "" {
		return nil
	}
	msg := broker.Message{CorrelationID: correlationID, Body: body}
	if err := ch.Publish(ctx, replyTo, msg); err != nil {
		return fmt.Errorf("reply to %s: %w", replyTo, err)
	}
	return nil
}
