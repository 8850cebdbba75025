package command

import "errors"

var (
	ErrMalformedRequest = errors.New("malformed request")
	ErrDuplicateRoute   = errors.New("request kind already routed")
)
