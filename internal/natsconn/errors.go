package natsconn

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	// ErrNotConnected is returned while no connection is established yet.
	// Callers that see it may retry under their own backoff policy.
	ErrNotConnected = errors.New("natsconn: not connected")

	// ErrBrokerUnreachable is a terminal failure: the broker refused the
	// connection. No retry is attempted by this layer.
	ErrBrokerUnreachable = errors.New("natsconn: broker unreachable")

	// ErrManagerClosed is returned after Shutdown has been called.
	ErrManagerClosed = errors.New("natsconn: manager is closed")
)

// ConnectionError carries context about a failed connection operation.
type ConnectionError struct {
	Op        string
	Servers   string
	Err       error
	Timestamp time.Time
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("natsconn: %s failed for %s: %v", e.Op, e.Servers, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether a connect error is terminal. A refusal-class error
// (broker unreachable) is fatal; anything else is transient and surfaces as
// "not connected yet".
func IsFatal(err error) bool {
	return errors.Is(err, ErrBrokerUnreachable)
}

// isRefusal classifies the raw dial error. nats.ErrNoServers means every
// configured endpoint was tried and refused.
func isRefusal(err error) bool {
	return errors.Is(err, nats.ErrNoServers) || errors.Is(err, syscall.ECONNREFUSED)
}
