package stream

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned by Submit and Cancel when the session
// has no authenticated connection.
var ErrNotAuthenticated = errors.New("stream session not authenticated")

// ErrSendQueueFull is returned when the outbound queue cannot accept
// another message without blocking the caller.
var ErrSendQueueFull = errors.New("stream send queue full")

// AuthError reports a rejected handshake.
type AuthError struct {
	DeviceID string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for device %s: %s", e.DeviceID, e.Reason)
}
