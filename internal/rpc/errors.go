package rpc

import "errors"

var (
	ErrTimeout = errors.New("rpc timed out")

	ErrCallInFlight = errors.New("rpc already in flight for this caller")

	ErrReplyQueueClosed = errors.New("reply queue closed")

	ErrMalformedReply = errors.New("malformed reply")
)
