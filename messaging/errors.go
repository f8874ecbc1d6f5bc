package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrNilHandler is returned when a handler registration is missing its
	// function.
	ErrNilHandler = errors.New("messaging: handler cannot be nil")

	// ErrEmptyPattern is returned for a registration without a subject
	// pattern.
	ErrEmptyPattern = errors.New("messaging: pattern cannot be empty")

	// ErrDuplicatePattern is returned when a pattern is registered twice
	// for the same kind.
	ErrDuplicatePattern = errors.New("messaging: pattern already registered")

	// ErrTableSealed is returned for registrations attempted after the
	// router started consuming.
	ErrTableSealed = errors.New("messaging: routing table is sealed")

	// ErrNilCallback is returned when a command is published without a
	// reply callback.
	ErrNilCallback = errors.New("messaging: reply callback cannot be nil")
)

// PublishError reports a failed publish to the durable stream.
type PublishError struct {
	Subject string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("messaging: publish to %q failed: %v", e.Subject, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
