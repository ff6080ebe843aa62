package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// RemoteTransportError is returned when an inference endpoint or the object
// store answers with a failure.
type RemoteTransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteTransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: request failed: %d, %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteTransportError) Unwrap() error {
	return e.Err
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}
