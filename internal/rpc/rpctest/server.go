// Package rpctest runs an in-process framed RPC server on a unix socket,
// for tests and scripted harnesses that stand in for the daemon.
package rpctest

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencli/opencli/internal/codec"
	"github.com/opencli/opencli/internal/rpc"
)

// Handler answers one decoded request. Returning nil closes the
// connection without a response. ctx is cancelled when the server closes.
type Handler func(ctx context.Context, req *rpc.Request) *rpc.Response

var peerUIDMatchesCurrentUserFn = peerUIDMatchesCurrentUser

// Server listens on a temporary unix socket.
type Server struct {
	// SocketPath is where clients dial.
	SocketPath string

	// ChunkSize, when positive, splits each response frame into writes of
	// at most that many bytes with ChunkDelay between them.
	ChunkSize  int
	ChunkDelay time.Duration

	handler  Handler
	listener net.Listener
	dir      string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	requests atomic.Int64
}

// NewServer starts a server answering with handler.
func NewServer(handler Handler) (*Server, error) {
	// Socket paths are limited to ~108 bytes, so stay directly under /tmp.
	dir, err := os.MkdirTemp("/tmp", "opencli-rpc-")
	if err != nil {
		return nil, fmt.Errorf("creating socket dir: %w", err)
	}
	s := &Server{
		SocketPath: filepath.Join(dir, "rpc.sock"),
		handler:    handler,
		dir:        dir,
	}
	if err := s.start(); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return s, nil
}

func (s *Server) start() error {
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.SocketPath, err)
	}
	if err := os.Chmod(s.SocketPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Requests returns how many requests have been decoded so far.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Close stops the listener, cancels in-flight handlers and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.listener.Close()
	s.wg.Wait()
	os.RemoveAll(s.dir)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	ok, err := peerUIDMatchesCurrentUserFn(conn)
	if err != nil || !ok {
		s.write(conn, &rpc.Response{Success: false, Error: "peer uid mismatch"})
		return
	}

	deframer := rpc.NewDeframer()
	buf := make([]byte, 1024)
	var payload []byte
	for payload == nil {
		n, err := conn.Read(buf)
		if n > 0 {
			deframer.Write(buf[:n]) //nolint:errcheck
			p, ok, ferr := deframer.Next()
			if ferr != nil {
				return
			}
			if ok {
				payload = p
			}
		}
		if err != nil && payload == nil {
			return
		}
	}

	var req rpc.Request
	if err := codec.Unmarshal(payload, &req); err != nil {
		s.write(conn, &rpc.Response{Success: false, Error: "invalid request"})
		return
	}
	s.requests.Add(1)

	resp := s.handler(s.ctx, &req)
	if resp == nil {
		return
	}
	s.write(conn, resp)
}

func (s *Server) write(conn net.Conn, resp *rpc.Response) {
	payload, err := codec.Marshal(resp)
	if err != nil {
		return
	}
	frame := rpc.EncodeFrame(payload)
	if s.ChunkSize <= 0 {
		conn.Write(frame) //nolint:errcheck
		return
	}
	for len(frame) > 0 {
		n := min(s.ChunkSize, len(frame))
		if _, err := conn.Write(frame[:n]); err != nil {
			return
		}
		frame = frame[n:]
		if s.ChunkDelay > 0 {
			time.Sleep(s.ChunkDelay)
		}
	}
}
