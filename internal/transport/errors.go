package transport

import (
	"errors"
	"fmt"
)

// ErrTransport is matched by every broker-side failure
var ErrTransport = errors.New("transport error")

// Error is a failed broker operation
type Error struct {
	Op      string
	Channel string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s on %q: %v", e.Op, e.Channel, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) true for every *Error
func (e *Error) Is(target error) bool {
	return target == ErrTransport
}
