package rpc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/opencli/opencli/internal/codec"
)

// dialTimeout covers only the connect phase; the response window starts
// once the connection is established.
const dialTimeout = 5 * time.Second

const readChunkSize = 4096

var dialFn = func(socketPath string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", socketPath, timeout)
}

// Client performs framed unary calls against the daemon socket. Each
// call opens its own connection and closes it after one response, so a
// Client is safe for concurrent use and holds no mutable state.
type Client struct {
	socketPath     string
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger routes debug output to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDefaultTimeout sets the timeout used when Call is given none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// NewClient creates a client for the socket at socketPath.
func NewClient(socketPath string, opts ...Option) *Client {
	c := &Client{
		socketPath:     socketPath,
		defaultTimeout: DefaultTimeoutMS * time.Millisecond,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SocketPath returns the endpoint this client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Call sends method with params and waits for the response. A zero
// timeout selects the client's default. A success=false response is
// returned together with a *CallError.
func (c *Client) Call(method string, params []string, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	return c.Do(NewRequest(method, params, timeout))
}

// Do sends a prepared request over a fresh connection.
func (c *Client) Do(req *Request) (*Response, error) {
	conn, err := dialFn(c.socketPath, dialTimeout)
	if err != nil {
		return nil, classifyDialError(c.socketPath, err)
	}
	defer conn.Close()

	payload, err := codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	timeout := req.Timeout()
	c.logger.Debug("rpc call", "method", req.Method, "request_id", req.RequestID, "timeout", timeout)

	// The idle timer starts only now that the connection exists.
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if err := WriteFrame(conn, payload); err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Method: req.Method, Timeout: timeout}
		}
		return nil, fmt.Errorf("sending request: %w", err)
	}

	raw, err := readResponseFrame(conn, timeout)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Method: req.Method, Timeout: timeout}
		}
		return nil, err
	}

	var resp Response
	if err := codec.Unmarshal(raw, &resp); err != nil {
		return nil, &ProtocolError{Op: "decoding response", Err: err, Payload: raw}
	}
	c.logger.Debug("rpc response", "method", req.Method, "success", resp.Success, "duration_us", resp.DurationUS, "cached", resp.Cached)

	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = unknownError
		}
		return &resp, &CallError{Method: req.Method, Message: msg, Response: &resp}
	}
	return &resp, nil
}

// readResponseFrame accumulates reads until one full frame is buffered.
// Every chunk that arrives pushes the idle deadline forward.
func readResponseFrame(conn net.Conn, idle time.Duration) ([]byte, error) {
	deframer := NewDeframer()
	chunk := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			deframer.Write(chunk[:n]) //nolint:errcheck
			payload, ok, ferr := deframer.Next()
			if ferr != nil {
				return nil, ferr
			}
			if ok {
				return payload, nil
			}
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, &ProtocolError{
					Op:  "reading response",
					Err: fmt.Errorf("connection closed with %d of a frame buffered: %w", deframer.Buffered(), io.ErrUnexpectedEOF),
				}
			}
			if isTimeout(err) {
				return nil, err
			}
			return nil, fmt.Errorf("reading response: %w", err)
		}
	}
}

func classifyDialError(socketPath string, err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w (no listener on %s): %w", ErrDaemonNotRunning, socketPath, err)
	}
	return fmt.Errorf("connecting to daemon: %w", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
