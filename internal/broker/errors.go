package broker

import "errors"

var (
	ErrQueueNotFound = errors.New("queue not found")

	ErrUnknownTag = errors.New("unknown delivery tag")

	ErrClosed = errors.New("broker closed")
)
