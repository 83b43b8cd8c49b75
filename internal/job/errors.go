package job

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedJob is matched by every decode failure. Malformed payloads are
	// a permanent failure: they are discarded, never retried.
	ErrMalformedJob = errors.New("malformed job")

	// ErrInvalidJob is returned when a descriptor fails validation
	ErrInvalidJob = errors.New("invalid job descriptor")
)

// MalformedJobError describes why a payload could not be turned into a Descriptor
type MalformedJobError struct {
	Reason string
	Err    error
}

func (e *MalformedJobError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed job: %s", e.Reason)
	}
	return fmt.Sprintf("malformed job: %s: %v", e.Reason, e.Err)
}

func (e *MalformedJobError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrMalformedJob) true for every MalformedJobError
func (e *MalformedJobError) Is(target error) bool {
	return target == ErrMalformedJob
}
