package rpc

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTimeoutMS is the per-call response timeout when none is given.
const DefaultTimeoutMS = 30000

// Request is sent from a client to the daemon as one framed CBOR map.
// A Request is not modified after it has been written.
type Request struct {
	Method    string            `cbor:"method"`     // dot-namespaced, e.g. "system.health"
	Params    []string          `cbor:"params"`     // positional, order preserved
	Context   map[string]string `cbor:"context"`    // may be empty, never nil on the wire
	RequestID string            `cbor:"request_id"` // UUID
	TimeoutMS int               `cbor:"timeout_ms"`
}

// Response is the daemon's reply; exactly one per connection.
type Response struct {
	Success    bool   `cbor:"success"`
	Result     string `cbor:"result"`
	DurationUS uint64 `cbor:"duration_us"`
	Cached     bool   `cbor:"cached"`
	RequestID  string `cbor:"request_id,omitempty"`
	Error      string `cbor:"error,omitempty"`
}

// NewRequest builds a request with a fresh request id, an empty context
// and the given timeout (DefaultTimeoutMS when timeout <= 0). Positive
// timeouts are rounded up to whole milliseconds.
func NewRequest(method string, params []string, timeout time.Duration) *Request {
	if params == nil {
		params = []string{}
	}
	ms := DefaultTimeoutMS
	if timeout > 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	return &Request{
		Method:    method,
		Params:    params,
		Context:   map[string]string{},
		RequestID: uuid.NewString(),
		TimeoutMS: ms,
	}
}

// Timeout returns the request's response window.
func (r *Request) Timeout() time.Duration {
	if r.TimeoutMS <= 0 {
		return DefaultTimeoutMS * time.Millisecond
	}
	return time.Duration(r.TimeoutMS) * time.Millisecond
}
