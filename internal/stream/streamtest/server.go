// Package streamtest runs an in-process websocket task server that
// speaks the session protocol, for tests and local harnesses.
package streamtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opencli/opencli/internal/auth"
	"github.com/opencli/opencli/internal/stream"
)

// SubmitHandler reacts to one submit_task message.
type SubmitHandler func(c *Conn, msg stream.Envelope)

// Server verifies auth messages against Secret and records everything
// clients send after authenticating.
type Server struct {
	// URL is the ws:// address clients dial.
	URL string

	secret string
	window time.Duration
	silent atomic.Bool

	onSubmit SubmitHandler

	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	conns     chan *Conn
	received  chan stream.Envelope
	authTries atomic.Int64
	nextID    atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithBucketWindow makes the server accept only timestamps aligned to w,
// the bucketed convention.
func WithBucketWindow(w time.Duration) Option {
	return func(s *Server) { s.window = w }
}

// WithSubmitHandler installs the reaction to submit_task.
func WithSubmitHandler(h SubmitHandler) Option {
	return func(s *Server) { s.onSubmit = h }
}

// NewServer starts a server accepting tokens derived from secret.
func NewServer(secret string, opts ...Option) *Server {
	s := &Server{
		secret:   secret,
		conns:    make(chan *Conn, 16),
		received: make(chan stream.Envelope, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.serve))
	s.URL = "ws" + strings.TrimPrefix(s.httpServer.URL, "http")
	return s
}

// Close stops the listener and drops every connection.
func (s *Server) Close() {
	s.httpServer.CloseClientConnections()
	s.httpServer.Close()
}

// SetSilent stops (or resumes) answering heartbeats.
func (s *Server) SetSilent(silent bool) { s.silent.Store(silent) }

// Conns yields each connection once it has authenticated.
func (s *Server) Conns() <-chan *Conn { return s.conns }

// Received yields every post-auth client message, heartbeats included.
func (s *Server) Received() <-chan stream.Envelope { return s.received }

// AuthAttempts counts auth messages seen across all connections.
func (s *Server) AuthAttempts() int64 { return s.authTries.Load() }

// NextTaskID returns a fresh server-side task id.
func (s *Server) NextTaskID() string {
	return fmt.Sprintf("srv-%d", s.nextID.Add(1))
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Conn{ws: ws, server: s}
	defer ws.Close()

	if !s.handshake(c) {
		return
	}
	select {
	case s.conns <- c:
	default:
	}

	for {
		var msg stream.Envelope
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		select {
		case s.received <- msg:
		default:
		}
		switch msg.Type {
		case stream.MsgHeartbeat:
			if !s.silent.Load() {
				_ = c.Send(stream.Envelope{Type: stream.MsgHeartbeatAck, ServerTime: time.Now().UnixMilli()})
			}
		case stream.MsgSubmitTask:
			if s.onSubmit != nil {
				s.onSubmit(c, msg)
			}
		}
	}
}

func (s *Server) handshake(c *Conn) bool {
	for {
		var msg stream.Envelope
		if err := c.ws.ReadJSON(&msg); err != nil {
			return false
		}
		if msg.Type != stream.MsgAuth {
			continue
		}
		s.authTries.Add(1)
		if s.accepts(msg) {
			_ = c.Send(stream.Envelope{Type: stream.MsgAuthSuccess, ServerTime: time.Now().UnixMilli()})
			return true
		}
		if err := c.Send(stream.Envelope{Type: stream.MsgAuthRequired, Message: "invalid token"}); err != nil {
			return false
		}
	}
}

func (s *Server) accepts(msg stream.Envelope) bool {
	if w := s.window.Milliseconds(); w > 0 && msg.Timestamp%w != 0 {
		return false
	}
	return auth.Verify(msg.DeviceID, msg.Timestamp, s.secret, msg.Token)
}

// Conn is one authenticated client connection.
type Conn struct {
	ws     *websocket.Conn
	server *Server
	mu     sync.Mutex
}

// Send writes a message to the client.
func (c *Conn) Send(msg stream.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

// Drop closes the underlying connection without a close frame.
func (c *Conn) Drop() { c.ws.Close() }

// Ack replies task_submitted for msg with a fresh server id, echoing
// client_task_id only when echo is true. It returns the server id.
func (c *Conn) Ack(msg stream.Envelope, echo bool) string {
	id := c.server.NextTaskID()
	ack := stream.Envelope{Type: stream.MsgTaskSubmitted, TaskID: id, TaskType: msg.TaskType}
	if echo {
		ack.ClientTaskID = msg.ClientTaskID
	}
	_ = c.Send(ack)
	return id
}

// Update sends a task_update for a server task id.
func (c *Conn) Update(taskID string, status stream.Status, result map[string]any) error {
	return c.Send(stream.Envelope{Type: stream.MsgTaskUpdate, TaskID: taskID, Status: status, Result: result})
}

// Complete acknowledges every submission and immediately completes it
// with result.
func Complete(result map[string]any) SubmitHandler {
	return func(c *Conn, msg stream.Envelope) {
		id := c.Ack(msg, true)
		_ = c.Update(id, stream.StatusCompleted, result)
	}
}
