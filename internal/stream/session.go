// Package stream implements the long-lived, authenticated task session:
// a websocket carrying JSON control messages, with fire-and-forget task
// submission, heartbeats and reconnect after a fixed delay.
//
// A Session never resubmits. Submissions outstanding when a connection
// drops are reported once as orphaned on the EventDisconnected event and
// forgotten; callers decide what to do with them.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opencli/opencli/internal/auth"
	"github.com/opencli/opencli/internal/clock"
)

const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultHeartbeatTimeout  = 45 * time.Second

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	sendQueueSize    = 256
	eventBufferSize  = 64
)

// Validator checks task data before it is sent.
type Validator interface {
	Validate(taskType string, data map[string]any) error
}

// Options configures a Session.
type Options struct {
	URL        string
	Signer     auth.Signer
	DeviceName string
	Platform   string

	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	Clock     clock.Clock
	Logger    *slog.Logger
	Dialer    *websocket.Dialer
	Validator Validator
}

// Session owns at most one connection at a time.
type Session struct {
	opts   Options
	clock  clock.Clock
	logger *slog.Logger
	dialer *websocket.Dialer
	events chan Event

	mu       sync.Mutex
	signer   auth.Signer
	state    State
	current  *connection
	inflight map[string]*Submission
	unacked  []string
	byServer map[string]string
	bySynth  map[string]string
	lastAck  time.Time
	missed   bool
}

type connection struct {
	conn  *websocket.Conn
	out   chan Envelope
	flush chan chan struct{}
	done  chan struct{}
}

// NewSession returns a disconnected session. Call Run to connect.
func NewSession(opts Options) *Session {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	opts.Signer.Clock = c
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = handshakeTimeout
		dialer = &d
	}
	s := &Session{
		opts:   opts,
		clock:  c,
		logger: logger.With("url", opts.URL, "device_id", opts.Signer.DeviceID),
		dialer: dialer,
		events: make(chan Event, eventBufferSize),
		signer: opts.Signer,
	}
	s.resetTasksLocked()
	return s
}

// Events delivers session events in order. It is closed when Run returns.
// Run blocks while the buffer is full, so consumers must keep reading.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DeviceID returns the identity the session authenticates as.
func (s *Session) DeviceID() string { return s.opts.Signer.DeviceID }

// Run connects, authenticates and serves the connection, reconnecting
// after ReconnectDelay whenever it drops or auth fails. Retries are
// unbounded. It returns ctx.Err() once ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.events)
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.setState(ctx, StateDisconnected)
			return ctx.Err()
		}
		s.logger.Warn("stream connection ended", "error", err, "retry_in", s.opts.ReconnectDelay)
		s.setState(ctx, StateDisconnected)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.opts.ReconnectDelay):
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	s.setState(ctx, StateConnecting)
	conn, _, err := s.dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.opts.URL, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.setState(ctx, StateConnected)
	if err := s.authenticate(ctx, conn); err != nil {
		s.setState(ctx, StateAuthFailed)
		s.emit(ctx, Event{Kind: EventAuthFailed, State: StateAuthFailed, Err: err})
		return err
	}

	cur := &connection{
		conn:  conn,
		out:   make(chan Envelope, sendQueueSize),
		flush: make(chan chan struct{}),
		done:  make(chan struct{}),
	}
	s.mu.Lock()
	s.current = cur
	s.lastAck = s.clock.Now()
	s.missed = false
	s.mu.Unlock()
	s.setState(ctx, StateAuthenticated)
	s.logger.Info("stream session authenticated")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(cur)
	}()
	go func() {
		defer wg.Done()
		s.heartbeatLoop(ctx, cur)
	}()

	err = s.readLoop(ctx, cur)
	close(cur.done)
	conn.Close()
	wg.Wait()

	orphaned := s.detach()
	if len(orphaned) > 0 {
		s.logger.Warn("submissions orphaned by disconnect", "count", len(orphaned))
	}
	s.emit(ctx, Event{Kind: EventDisconnected, State: StateDisconnected, Orphaned: orphaned, Err: err})
	return err
}

// authenticate sends credentials and waits for the verdict. On
// auth_required it retries once with the other timestamp convention and
// keeps whichever convention the server accepted. A configured window
// is pinned and gets a single attempt.
func (s *Session) authenticate(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	signer := s.signer
	s.mu.Unlock()

	attempts := 2
	if s.opts.Signer.Window > 0 {
		attempts = 1
	}
	reason := "auth_required"
	for attempt := 0; attempt < attempts; attempt++ {
		creds := signer.Sign()
		msg := Envelope{
			Type:       MsgAuth,
			DeviceID:   signer.DeviceID,
			Token:      creds.Token,
			Timestamp:  creds.Timestamp,
			DeviceName: s.opts.DeviceName,
			Platform:   s.opts.Platform,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("sending auth: %w", err)
		}
		s.setState(ctx, StateAuthSent)

		reply, err := readAuthReply(conn)
		if err != nil {
			return err
		}
		switch reply.Type {
		case MsgAuthSuccess:
			s.mu.Lock()
			s.signer = signer
			s.mu.Unlock()
			if attempt > 0 {
				s.logger.Info("server accepted alternate timestamp convention", "window", signer.Window)
			}
			return nil
		case MsgAuthRequired:
			if reply.Message != "" {
				reason = reply.Message
			}
			s.logger.Debug("auth rejected", "attempt", attempt+1, "window", signer.Window, "reason", reason)
			signer = signer.Alternate()
		case MsgError:
			return &AuthError{DeviceID: signer.DeviceID, Reason: reply.ErrorText()}
		}
	}
	return &AuthError{DeviceID: signer.DeviceID, Reason: reason}
}

func readAuthReply(conn *websocket.Conn) (*Envelope, error) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return nil, fmt.Errorf("awaiting auth reply: %w", err)
		}
		switch env.Type {
		case MsgAuthSuccess, MsgAuthRequired, MsgError:
			return &env, nil
		}
	}
}

func (s *Session) writeLoop(cur *connection) {
	for {
		select {
		case <-cur.done:
			return
		case env := <-cur.out:
			if !s.write(cur, env) {
				return
			}
		case reply := <-cur.flush:
			for drained := false; !drained; {
				select {
				case env := <-cur.out:
					if !s.write(cur, env) {
						return
					}
				default:
					drained = true
				}
			}
			close(reply)
		}
	}
}

func (s *Session) write(cur *connection, env Envelope) bool {
	_ = cur.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := cur.conn.WriteJSON(env); err != nil {
		s.logger.Warn("stream write failed", "type", env.Type, "error", err)
		cur.conn.Close()
		return false
	}
	return true
}

// Flush blocks until every message queued before the call has been
// written to the connection.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return ErrNotAuthenticated
	}
	reply := make(chan struct{})
	select {
	case cur.flush <- reply:
	case <-cur.done:
		return ErrNotAuthenticated
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-cur.done:
		return ErrNotAuthenticated
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) heartbeatLoop(ctx context.Context, cur *connection) {
	ticker := s.clock.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cur.done:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			select {
			case cur.out <- Envelope{Type: MsgHeartbeat}:
			default:
			}
			s.mu.Lock()
			silent := now.Sub(s.lastAck)
			report := silent >= s.opts.HeartbeatTimeout && !s.missed
			if report {
				s.missed = true
			}
			s.mu.Unlock()
			if report {
				s.logger.Warn("heartbeat ack overdue", "silent_for", silent)
				s.emit(ctx, Event{Kind: EventHeartbeatMissed, State: StateAuthenticated})
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, cur *connection) error {
	for {
		var env Envelope
		if err := cur.conn.ReadJSON(&env); err != nil {
			return err
		}
		s.handle(ctx, cur, &env)
	}
}

func (s *Session) handle(ctx context.Context, cur *connection, env *Envelope) {
	switch env.Type {
	case MsgHeartbeatAck:
		s.mu.Lock()
		s.lastAck = s.clock.Now()
		s.missed = false
		s.mu.Unlock()
	case MsgHeartbeat:
		select {
		case cur.out <- Envelope{Type: MsgHeartbeatAck}:
		default:
		}
	case MsgTaskSubmitted:
		inferred := s.linkAck(env)
		s.emit(ctx, Event{Kind: EventTaskSubmitted, State: StateAuthenticated, Message: env, InferredClientID: inferred})
	case MsgTaskUpdate:
		if env.Status.Terminal() {
			s.settle(env)
		}
		s.emit(ctx, Event{Kind: EventTaskUpdate, State: StateAuthenticated, Message: env})
	case MsgError:
		s.logger.Warn("server error", "error", env.ErrorText(), "task_id", env.TaskID)
		s.emit(ctx, Event{Kind: EventServerError, State: StateAuthenticated, Message: env})
	default:
		s.logger.Debug("ignoring message", "type", env.Type)
	}
}

// linkAck records the server id for a submission. Acks that omit
// client_task_id are matched to the oldest unacknowledged submission,
// and the envelope is filled in accordingly. An echoed id is never
// replaced, even when its task already settled.
func (s *Session) linkAck(env *Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	inferred := false
	id := env.ClientTaskID
	if id == "" {
		if len(s.unacked) == 0 {
			return false
		}
		id = s.unacked[0]
		inferred = true
	}
	if _, ok := s.inflight[id]; !ok {
		return false
	}
	s.unacked = removeID(s.unacked, id)
	if env.TaskID != "" {
		s.byServer[env.TaskID] = id
	}
	if inferred {
		env.ClientTaskID = id
	}
	return inferred
}

func (s *Session) settle(env *Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := env.ClientTaskID
	if _, ok := s.inflight[id]; !ok {
		id = s.byServer[env.TaskID]
		if id == "" {
			id = s.bySynth[env.TaskID]
		}
	}
	sub, ok := s.inflight[id]
	if !ok {
		return
	}
	delete(s.inflight, id)
	delete(s.bySynth, sub.SynthesizedID)
	delete(s.byServer, env.TaskID)
	s.unacked = removeID(s.unacked, id)
}

func (s *Session) detach() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	orphaned := make([]Submission, 0, len(s.inflight))
	for _, sub := range s.inflight {
		orphaned = append(orphaned, *sub)
	}
	sort.Slice(orphaned, func(i, j int) bool {
		return orphaned[i].ClientTaskID < orphaned[j].ClientTaskID
	})
	s.current = nil
	s.state = StateDisconnected
	s.resetTasksLocked()
	return orphaned
}

func (s *Session) resetTasksLocked() {
	s.inflight = make(map[string]*Submission)
	s.unacked = nil
	s.byServer = make(map[string]string)
	s.bySynth = make(map[string]string)
}

// SubmitOption adjusts a submission.
type SubmitOption func(*Submission)

// WithPriority sets the optional priority field.
func WithPriority(p int) SubmitOption {
	return func(sub *Submission) { sub.Priority = &p }
}

// Submit queues a submit_task message and returns immediately. The
// outcome arrives later as task_submitted and task_update events.
func (s *Session) Submit(taskType string, data map[string]any, opts ...SubmitOption) (Submission, error) {
	if taskType == "" {
		return Submission{}, errors.New("task type is required")
	}
	if data == nil {
		data = map[string]any{}
	}
	if s.opts.Validator != nil {
		if err := s.opts.Validator.Validate(taskType, data); err != nil {
			return Submission{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated || s.current == nil {
		return Submission{}, ErrNotAuthenticated
	}

	now := s.clock.Now()
	sub := Submission{
		ClientTaskID:  newClientTaskID(now),
		SynthesizedID: SynthesizeTaskID(s.opts.Signer.DeviceID, now),
		TaskType:      taskType,
		TaskData:      data,
		SubmittedAt:   now,
	}
	for _, opt := range opts {
		opt(&sub)
	}
	env := Envelope{
		Type:         MsgSubmitTask,
		ClientTaskID: sub.ClientTaskID,
		TaskType:     taskType,
		TaskData:     data,
		Priority:     sub.Priority,
	}
	select {
	case s.current.out <- env:
	default:
		return Submission{}, ErrSendQueueFull
	}
	s.inflight[sub.ClientTaskID] = &sub
	s.unacked = append(s.unacked, sub.ClientTaskID)
	s.bySynth[sub.SynthesizedID] = sub.ClientTaskID
	s.logger.Debug("task submitted", "client_task_id", sub.ClientTaskID, "task_type", taskType)
	return sub, nil
}

// Cancel asks the server to cancel a task by its server id.
func (s *Session) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated || s.current == nil {
		return ErrNotAuthenticated
	}
	select {
	case s.current.out <- Envelope{Type: MsgCancelTask, TaskID: taskID}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (s *Session) setState(ctx context.Context, st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.emit(ctx, Event{Kind: EventStateChanged, State: st})
}

func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
