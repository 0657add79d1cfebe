package rpc

import (
	"errors"
	"fmt"
	"time"
)

// ErrDaemonNotRunning is returned when the socket is absent or refuses
// connections.
var ErrDaemonNotRunning = errors.New("daemon not running")

// unknownError is reported when the daemon fails a call without a message.
const unknownError = "Unknown error"

// CallError is returned when the daemon answers with success=false.
type CallError struct {
	Method   string
	Message  string
	Response *Response
}

func (e *CallError) Error() string {
	return e.Message
}

// TimeoutError is returned when no complete response arrives within the
// request's window. The connection has been closed.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out after %s", e.Method, e.Timeout)
}

// ProtocolError reports an undecodable or truncated frame. It is fatal
// to the call and never retried.
type ProtocolError struct {
	Op      string
	Err     error
	Payload []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a call timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
