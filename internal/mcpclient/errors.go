// ABOUTME: Error taxonomy for tool server calls: connection failures and timeouts.
// ABOUTME: Protocol errors are *jsonrpc.Error values returned unchanged from the server.

package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrConnectionClosed is the cause recorded when a connection is torn down locally.
var ErrConnectionClosed = errors.New("connection closed")

// ErrDuplicateRequestID indicates an id is already in flight on a connection.
var ErrDuplicateRequestID = errors.New("duplicate request ID")

// ConnectionError reports a spawn/connect failure or an unrecoverable transport failure.
// The pooled connection is dropped when one is returned.
type ConnectionError struct {
	ServerID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to server %s failed: %v", e.ServerID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that no matching response arrived within the call's bound.
type TimeoutError struct {
	ServerID string
	Op       string
	Bound    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s on server %s: Timeout (%s)", e.Op, e.ServerID, formatBound(e.Bound))
}

// Is lets callers match timeouts with errors.Is(err, context.DeadlineExceeded).
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// formatBound renders whole seconds as "10s" and anything else with Duration.String.
func formatBound(d time.Duration) string {
	if d > 0 && d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
