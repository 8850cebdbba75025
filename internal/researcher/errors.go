package researcher

import "errors"

var ErrUnknownCommand = errors.New("unknown command")
